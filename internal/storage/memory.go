package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements ObjectStore in process memory for tests. Failure
// injection mimics the partial-failure modes of real object storage: a copy
// that cannot read its source, a delete that fails after a successful copy.
type MemoryStore struct {
	mu          sync.Mutex
	objects     map[string][]byte // keyed by URI
	contentType map[string]string
	failDelete  map[string]int // remaining injected failures per URI
	failCopy    map[string]int
}

// Compile-time interface check.
var _ ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:     make(map[string][]byte),
		contentType: make(map[string]string),
		failDelete:  make(map[string]int),
		failCopy:    make(map[string]int),
	}
}

// Seed stores an object directly, bypassing the interface. Test setup.
func (s *MemoryStore) Seed(ref Ref, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ref.URI()] = append([]byte(nil), data...)
}

// FailDeletes makes the next n Delete calls for the ref fail.
func (s *MemoryStore) FailDeletes(ref Ref, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete[ref.URI()] = n
}

// FailCopies makes the next n Copy calls reading the ref fail.
func (s *MemoryStore) FailCopies(ref Ref, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCopy[ref.URI()] = n
}

func (s *MemoryStore) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uriPrefix := "s3://" + bucket + "/"
	var objects []Object
	for uri, data := range s.objects {
		key, ok := strings.CutPrefix(uri, uriPrefix)
		if !ok {
			continue
		}
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		objects = append(objects, Object{
			Key:         key,
			Size:        int64(len(data)),
			ContentType: s.contentType[uri],
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[ref.URI()]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", ref.URI(), ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(ctx context.Context, ref Ref, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[ref.URI()] = append([]byte(nil), data...)
	if contentType != "" {
		s.contentType[ref.URI()] = contentType
	}
	return nil
}

func (s *MemoryStore) Copy(ctx context.Context, src, dst Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCopy[src.URI()] > 0 {
		s.failCopy[src.URI()]--
		return fmt.Errorf("copy %s: injected failure", src.URI())
	}

	data, ok := s.objects[src.URI()]
	if !ok {
		return fmt.Errorf("copy %s: %w", src.URI(), ErrObjectNotFound)
	}
	s.objects[dst.URI()] = append([]byte(nil), data...)
	if ct, ok := s.contentType[src.URI()]; ok {
		s.contentType[dst.URI()] = ct
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failDelete[ref.URI()] > 0 {
		s.failDelete[ref.URI()]--
		return fmt.Errorf("delete %s: injected failure", ref.URI())
	}

	delete(s.objects, ref.URI())
	delete(s.contentType, ref.URI())
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, ref Ref) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.objects[ref.URI()]
	return ok, nil
}
