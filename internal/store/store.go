// Package store provides the durable job ledger for the video generation
// pipeline: one row per product (GTIN) tracking its lifecycle from uploaded
// reference images to an approved or rejected video.
//
// The production implementation uses a single-table DynamoDB design where all
// records for a product share a partition key (JOB#{gtin}). Sort keys
// distinguish record types: META holds the job row itself, DECISION# records
// form an append-only moderation audit trail. A global secondary index on
// (status, lastUpdated) serves the worker's oldest-pending query and the
// moderation queue listing.
//
// Every status change goes through Transition, a conditional update that
// names its precondition status. A transition whose precondition no longer
// holds fails with ErrInvalidState instead of racing, which is what keeps a
// reconciliation pass, the worker, and concurrent moderators from clobbering
// each other's writes.
package store

import (
	"context"
	"errors"
	"time"
)

// Statuses a job row moves through. PENDING rows are created only by
// reconciliation; FAILED and MODERATED are terminal for the automatic loop
// (FAILED can be requeued to PENDING by an operator).
const (
	StatusPending    Status = "PENDING"
	StatusGenerating Status = "GENERATING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusModerated  Status = "MODERATED"
)

// Status is a job's lifecycle state.
type Status string

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusGenerating, StatusCompleted, StatusFailed, StatusModerated:
		return true
	}
	return false
}

// Terminal reports whether the automatic loop is done with a job in this
// status. FAILED jobs wait for an operator requeue; MODERATED jobs are final.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusModerated
}

// transitions is the job state machine. Every edge not listed here is
// invalid and must be rejected.
var transitions = map[Status][]Status{
	StatusPending:    {StatusGenerating},
	StatusGenerating: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusModerated, StatusPending}, // moderated, or regenerate
	StatusFailed:     {StatusPending},                  // operator requeue only
}

// ValidTransition reports whether from → to is an edge of the job state
// machine.
func ValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Moderator decisions. Approve and reject both end in MODERATED; regenerate
// returns the job to PENDING and the decision is kept as audit metadata only.
const (
	DecisionApprove    Decision = "approve"
	DecisionReject     Decision = "reject"
	DecisionRegenerate Decision = "regenerate"
)

// Decision is a moderator's verdict on a completed video.
type Decision string

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionRegenerate:
		return true
	}
	return false
}

// TimeLayout is the fixed-width UTC timestamp format used for lastUpdated
// and logTimestamp. Fixed width keeps lexicographic order equal to
// chronological order, which the (status, lastUpdated) index relies on.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Now returns the current UTC time in TimeLayout.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// Job is the ledger row for one product. ProductID is derived from the
// partition key on read and excluded from DynamoDB attributes on write.
type Job struct {
	ProductID     string   `json:"productId" dynamodbav:"-"`
	Category      string   `json:"category" dynamodbav:"category"`
	ReferenceURIs []string `json:"referenceUris" dynamodbav:"referenceUris"`
	Prompt        string   `json:"prompt,omitempty" dynamodbav:"prompt,omitempty"`
	VideoURI      string   `json:"videoUri,omitempty" dynamodbav:"videoUri,omitempty"`
	Status        Status   `json:"status" dynamodbav:"status"`
	Decision      Decision `json:"decision,omitempty" dynamodbav:"decision,omitempty"`
	Notes         string   `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
	ModeratorID   string   `json:"moderatorId,omitempty" dynamodbav:"moderatorId,omitempty"`
	Attempts      int      `json:"attempts" dynamodbav:"attempts"`
	LastError     string   `json:"lastError,omitempty" dynamodbav:"lastError,omitempty"`
	LastUpdated   string   `json:"lastUpdated" dynamodbav:"lastUpdated"`
	LogTimestamp  string   `json:"logTimestamp" dynamodbav:"logTimestamp"`
}

// DecisionRecord is one entry of the append-only moderation audit trail.
// ID and ProductID are derived from PK/SK on read.
type DecisionRecord struct {
	ID          string   `json:"id" dynamodbav:"-"`
	ProductID   string   `json:"productId" dynamodbav:"-"`
	Decision    Decision `json:"decision" dynamodbav:"decision"`
	ModeratorID string   `json:"moderatorId" dynamodbav:"moderatorId"`
	Prompt      string   `json:"prompt,omitempty" dynamodbav:"prompt,omitempty"`
	Notes       string   `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
	Timestamp   string   `json:"timestamp" dynamodbav:"timestamp"`
}

// Fields is a partial update of a job row. A nil pointer leaves the field
// untouched; a pointer to the zero value clears it. ReferenceURIs replaces
// the whole list when non-nil (order is meaningful and never merged).
// Status is deliberately absent: status only changes through Transition.
type Fields struct {
	Prompt            *string
	VideoURI          *string
	ReferenceURIs     []string
	Decision          *Decision
	Notes             *string
	ModeratorID       *string
	LastError         *string
	IncrementAttempts bool
}

// Sentinel errors. Callers branch with errors.Is.
var (
	// ErrNotFound is returned when no job row exists for the product id.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyExists is returned by Insert when a row for the product id
	// is already present.
	ErrAlreadyExists = errors.New("job already exists")

	// ErrInvalidState is returned by Transition when the row is not in the
	// required precondition status. A lost claim race surfaces as this.
	ErrInvalidState = errors.New("job not in required status")

	// ErrTransient is returned when the ledger rejected a write for a
	// bounded, self-healing reason (throttling, freshly written rows not
	// yet updatable). Callers skip the row and retry on a later pass.
	ErrTransient = errors.New("ledger temporarily unavailable")
)

// Store is the ledger persistence interface. Each method is safe for
// concurrent use. Mutations are targeted field updates keyed by product id,
// never blind row overwrites, so concurrent actors working from stale
// snapshots cannot clobber each other's fields.
type Store interface {
	// Get retrieves a job row. Returns ErrNotFound if no row exists.
	Get(ctx context.Context, productID string) (*Job, error)

	// Insert creates the row for a new job. Empty LastUpdated/LogTimestamp
	// are stamped with the current time. Returns ErrAlreadyExists if a row
	// for the product id is present; callers pre-filter, the condition is
	// the backstop against concurrent inserts.
	Insert(ctx context.Context, job *Job) error

	// Update applies fields to an existing row and refreshes lastUpdated.
	// Returns ErrNotFound if the row is missing.
	Update(ctx context.Context, productID string, f Fields) error

	// Transition atomically moves a job from one status to another,
	// applying fields in the same write. Returns ErrInvalidState when the
	// row is not currently in the from status, ErrNotFound when it is
	// missing. The from guard makes double-claims fail visibly.
	Transition(ctx context.Context, productID string, from, to Status, f Fields) error

	// ListByStatus returns jobs in the given status ordered by lastUpdated.
	// limit <= 0 means no limit.
	ListByStatus(ctx context.Context, status Status, ascending bool, limit int) ([]*Job, error)

	// List returns every job row. Used by reconciliation; the table is
	// bounded by the product catalogue, not by traffic.
	List(ctx context.Context) ([]*Job, error)

	// AppendDecision appends one moderation audit record.
	AppendDecision(ctx context.Context, rec *DecisionRecord) error

	// ListDecisions returns a job's audit records in chronological order.
	ListDecisions(ctx context.Context, productID string) ([]*DecisionRecord, error)
}
