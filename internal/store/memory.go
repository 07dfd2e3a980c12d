package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements Store in process memory with the same semantics as
// DynamoStore: conditional inserts, guarded transitions, ordered status
// queries. Tests run components against it; BufferWrites simulates the
// transient window in which a freshly inserted ledger row rejects updates.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	decisions map[string][]*DecisionRecord
	buffered  map[string]int
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		decisions: make(map[string][]*DecisionRecord),
		buffered:  make(map[string]int),
	}
}

// BufferWrites makes the next n mutations of the given product's row fail
// with ErrTransient, mimicking an append-only buffering window.
func (s *MemoryStore) BufferWrites(productID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered[productID] = n
}

// consumeBuffer reports whether this write lands in the simulated buffering
// window. Caller must hold the lock.
func (s *MemoryStore) consumeBuffer(productID string) bool {
	if s.buffered[productID] > 0 {
		s.buffered[productID]--
		return true
	}
	return false
}

func cloneJob(j *Job) *Job {
	c := *j
	c.ReferenceURIs = append([]string(nil), j.ReferenceURIs...)
	return &c
}

func (s *MemoryStore) Get(ctx context.Context, productID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[productID]
	if !ok {
		return nil, fmt.Errorf("get job %s: %w", productID, ErrNotFound)
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Insert(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ProductID]; ok {
		return fmt.Errorf("insert job %s: %w", job.ProductID, ErrAlreadyExists)
	}
	if s.consumeBuffer(job.ProductID) {
		return fmt.Errorf("insert job %s: %w", job.ProductID, ErrTransient)
	}

	c := cloneJob(job)
	if c.LogTimestamp == "" {
		c.LogTimestamp = Now()
	}
	if c.LastUpdated == "" {
		c.LastUpdated = c.LogTimestamp
	}
	s.jobs[c.ProductID] = c
	return nil
}

// applyFields mutates job in place; mirrors the DynamoDB update expression.
func applyFields(job *Job, f Fields) {
	job.LastUpdated = Now()
	if f.Prompt != nil {
		job.Prompt = *f.Prompt
	}
	if f.VideoURI != nil {
		job.VideoURI = *f.VideoURI
	}
	if f.ReferenceURIs != nil {
		job.ReferenceURIs = append([]string(nil), f.ReferenceURIs...)
	}
	if f.Decision != nil {
		job.Decision = *f.Decision
	}
	if f.Notes != nil {
		job.Notes = *f.Notes
	}
	if f.ModeratorID != nil {
		job.ModeratorID = *f.ModeratorID
	}
	if f.LastError != nil {
		job.LastError = *f.LastError
	}
	if f.IncrementAttempts {
		job.Attempts++
	}
}

func (s *MemoryStore) Update(ctx context.Context, productID string, f Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[productID]
	if !ok {
		return fmt.Errorf("update job %s: %w", productID, ErrNotFound)
	}
	if s.consumeBuffer(productID) {
		return fmt.Errorf("update job %s: %w", productID, ErrTransient)
	}

	applyFields(job, f)
	return nil
}

func (s *MemoryStore) Transition(ctx context.Context, productID string, from, to Status, f Fields) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("transition %s -> %s: %w", from, to, ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[productID]
	if !ok {
		return fmt.Errorf("transition job %s: %w", productID, ErrNotFound)
	}
	if s.consumeBuffer(productID) {
		return fmt.Errorf("transition job %s: %w", productID, ErrTransient)
	}
	if job.Status != from {
		return fmt.Errorf("transition job %s %s -> %s: %w", productID, from, to, ErrInvalidState)
	}

	applyFields(job, f)
	job.Status = to
	return nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, ascending bool, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*Job
	for _, job := range s.jobs {
		if job.Status == status {
			jobs = append(jobs, cloneJob(job))
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].LastUpdated != jobs[j].LastUpdated {
			if ascending {
				return jobs[i].LastUpdated < jobs[j].LastUpdated
			}
			return jobs[i].LastUpdated > jobs[j].LastUpdated
		}
		return jobs[i].ProductID < jobs[j].ProductID
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ProductID < jobs[j].ProductID })
	return jobs, nil
}

func (s *MemoryStore) AppendDecision(ctx context.Context, rec *DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *rec
	if c.ID == "" {
		c.ID = fmt.Sprintf("dec-%04d", len(s.decisions[c.ProductID])+1)
	}
	if c.Timestamp == "" {
		c.Timestamp = Now()
	}
	s.decisions[c.ProductID] = append(s.decisions[c.ProductID], &c)
	return nil
}

func (s *MemoryStore) ListDecisions(ctx context.Context, productID string) ([]*DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*DecisionRecord, 0, len(s.decisions[productID]))
	for _, rec := range s.decisions[productID] {
		c := *rec
		records = append(records, &c)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })
	return records, nil
}
