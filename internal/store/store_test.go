package store

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"claim", StatusPending, StatusGenerating, true},
		{"generation success", StatusGenerating, StatusCompleted, true},
		{"generation failure", StatusGenerating, StatusFailed, true},
		{"moderate", StatusCompleted, StatusModerated, true},
		{"regenerate", StatusCompleted, StatusPending, true},
		{"operator requeue", StatusFailed, StatusPending, true},
		{"skip to moderated", StatusPending, StatusModerated, false},
		{"skip claim", StatusPending, StatusCompleted, false},
		{"moderated is terminal", StatusModerated, StatusPending, false},
		{"failed cannot complete", StatusFailed, StatusCompleted, false},
		{"no self loop", StatusPending, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusGenerating, StatusCompleted} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Status{StatusFailed, StatusModerated} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestMemoryStore_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job := &Job{ProductID: "100", Category: "clothes", Status: StatusPending}
	if err := s.Insert(ctx, job); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := s.Insert(ctx, &Job{ProductID: "100", Category: "clothes", Status: StatusPending})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.Update(ctx, "nope", Fields{Notes: strPtr("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ClaimRace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Insert(ctx, &Job{ProductID: "100", Status: StatusPending}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.Transition(ctx, "100", StatusPending, StatusGenerating, Fields{IncrementAttempts: true}); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// A second claim must fail visibly, not race.
	err := s.Transition(ctx, "100", StatusPending, StatusGenerating, Fields{IncrementAttempts: true})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on double claim, got %v", err)
	}

	job, err := s.Get(ctx, "100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != StatusGenerating {
		t.Errorf("expected status GENERATING, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("expected attempts 1 after failed double claim, got %d", job.Attempts)
	}
}

func TestMemoryStore_InvalidEdgeRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Insert(ctx, &Job{ProductID: "100", Status: StatusPending}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// PENDING can never jump straight to MODERATED.
	err := s.Transition(ctx, "100", StatusPending, StatusModerated, Fields{})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}

	job, _ := s.Get(ctx, "100")
	if job.Status != StatusPending {
		t.Errorf("row modified by rejected transition: status %s", job.Status)
	}
}

func TestMemoryStore_BufferedWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Insert(ctx, &Job{ProductID: "100", Status: StatusPending}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.BufferWrites("100", 1)

	err := s.Transition(ctx, "100", StatusPending, StatusGenerating, Fields{})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient inside buffering window, got %v", err)
	}

	// The next pass succeeds once the window has passed.
	if err := s.Transition(ctx, "100", StatusPending, StatusGenerating, Fields{}); err != nil {
		t.Errorf("expected retry to succeed, got %v", err)
	}
}

func TestMemoryStore_ListByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	seed := []struct {
		id          string
		status      Status
		lastUpdated string
	}{
		{"300", StatusPending, "2025-06-01T10:00:03.000000000Z"},
		{"100", StatusPending, "2025-06-01T10:00:01.000000000Z"},
		{"200", StatusPending, "2025-06-01T10:00:02.000000000Z"},
		{"900", StatusCompleted, "2025-06-01T09:00:00.000000000Z"},
	}
	for _, row := range seed {
		err := s.Insert(ctx, &Job{ProductID: row.id, Status: row.status, LastUpdated: row.lastUpdated})
		if err != nil {
			t.Fatalf("insert %s: %v", row.id, err)
		}
	}

	jobs, err := s.ListByStatus(ctx, StatusPending, true, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"100", "200", "300"}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for i, id := range want {
		if jobs[i].ProductID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, jobs[i].ProductID)
		}
	}

	oldest, err := s.ListByStatus(ctx, StatusPending, true, 1)
	if err != nil {
		t.Fatalf("list limit 1: %v", err)
	}
	if len(oldest) != 1 || oldest[0].ProductID != "100" {
		t.Errorf("expected oldest pending job 100, got %v", oldest)
	}

	newest, err := s.ListByStatus(ctx, StatusPending, false, 1)
	if err != nil {
		t.Fatalf("list descending: %v", err)
	}
	if len(newest) != 1 || newest[0].ProductID != "300" {
		t.Errorf("expected newest pending job 300, got %v", newest)
	}
}

func TestMemoryStore_FieldUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job := &Job{
		ProductID:     "100",
		Status:        StatusCompleted,
		VideoURI:      "s3://processed/100/100.mp4",
		ReferenceURIs: []string{"s3://processed/100/100_01.webp", "s3://processed/100/100_02.webp"},
	}
	if err := s.Insert(ctx, job); err != nil {
		t.Fatalf("insert: %v", err)
	}

	newRefs := []string{"s3://input/clothes/100_01.webp", "s3://input/clothes/100_02.webp"}
	err := s.Update(ctx, "100", Fields{
		VideoURI:      strPtr(""),
		ReferenceURIs: newRefs,
		Notes:         strPtr("blurry logo"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(ctx, "100")
	if got.VideoURI != "" {
		t.Errorf("expected video URI cleared, got %q", got.VideoURI)
	}
	if len(got.ReferenceURIs) != 2 || got.ReferenceURIs[0] != newRefs[0] || got.ReferenceURIs[1] != newRefs[1] {
		t.Errorf("reference URIs not replaced in order: %v", got.ReferenceURIs)
	}
	if got.Notes != "blurry logo" {
		t.Errorf("expected notes persisted, got %q", got.Notes)
	}
	if got.LastUpdated == job.LastUpdated {
		t.Error("expected lastUpdated to be refreshed")
	}
}

func TestMemoryStore_Decisions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := &DecisionRecord{
		ProductID:   "100",
		Decision:    DecisionRegenerate,
		ModeratorID: "ana@example.com",
		Timestamp:   "2025-06-01T10:00:00.000000000Z",
	}
	second := &DecisionRecord{
		ProductID:   "100",
		Decision:    DecisionApprove,
		ModeratorID: "ana@example.com",
		Timestamp:   "2025-06-01T11:00:00.000000000Z",
	}
	if err := s.AppendDecision(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendDecision(ctx, second); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := s.ListDecisions(ctx, "100")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Decision != DecisionRegenerate || records[1].Decision != DecisionApprove {
		t.Errorf("records out of chronological order: %v, %v", records[0].Decision, records[1].Decision)
	}
}

func TestBuildUpdate_Expression(t *testing.T) {
	e, err := buildUpdate(Fields{
		Prompt:            strPtr("studio shot"),
		VideoURI:          strPtr(""),
		IncrementAttempts: true,
	})
	if err != nil {
		t.Fatalf("buildUpdate: %v", err)
	}

	expr := e.expression()
	if !strings.HasPrefix(expr, "SET ") {
		t.Errorf("expected SET prefix, got %q", expr)
	}
	for _, clause := range []string{"#lu = :lu", "#p = :p", "#v = :v", "ADD #a :one"} {
		if !strings.Contains(expr, clause) {
			t.Errorf("expected clause %q in %q", clause, expr)
		}
	}
	if e.names["#s"] != "" {
		t.Errorf("status must not appear in a plain field update, got %q", e.names["#s"])
	}
	if e.names["#a"] != "attempts" {
		t.Errorf("expected attempts alias, got %q", e.names["#a"])
	}
}
