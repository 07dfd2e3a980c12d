// Package moderation applies human review decisions to completed jobs.
//
// A decision is asset moves followed by one guarded ledger transition. The
// moves run first: when any of them fails the row stays COMPLETED and the
// moderator can retry, with the mover absorbing whatever the failed attempt
// already relocated. Many moderators work concurrently; the transition guard
// lets exactly one decision per job win.
package moderation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/metrics"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/store"
)

// Request is one moderator decision as submitted.
type Request struct {
	ProductID    string
	Decision     store.Decision
	EditedPrompt string
	EditedNotes  string
	ModeratorID  string
}

// Processor carries out decisions against the ledger and the asset tiers.
type Processor struct {
	jobs    store.Store
	objects storage.ObjectStore
	mover   *storage.Mover
	tiers   storage.Tiers
}

// New creates a Processor.
func New(jobs store.Store, objects storage.ObjectStore, tiers storage.Tiers) *Processor {
	return &Processor{
		jobs:    jobs,
		objects: objects,
		mover:   storage.NewMover(objects),
		tiers:   tiers,
	}
}

// Decide applies one decision. It returns store.ErrNotFound when the job is
// missing and store.ErrInvalidState when the job is not awaiting review.
func (p *Processor) Decide(ctx context.Context, req Request) error {
	if !req.Decision.Valid() {
		return fmt.Errorf("unknown decision %q", req.Decision)
	}

	job, err := p.jobs.Get(ctx, req.ProductID)
	if err != nil {
		return err
	}
	if job.Status != store.StatusCompleted {
		return fmt.Errorf("job %s is %s, not %s: %w", req.ProductID, job.Status, store.StatusCompleted, store.ErrInvalidState)
	}

	switch req.Decision {
	case store.DecisionApprove:
		err = p.approve(ctx, job, req)
	case store.DecisionReject:
		err = p.reject(ctx, job, req)
	case store.DecisionRegenerate:
		err = p.regenerate(ctx, job, req)
	}
	if err != nil {
		return err
	}

	p.appendAudit(ctx, job, req)

	metrics.New(metrics.Namespace).
		Dimension("Operation", "moderate").
		Dimension("Decision", string(req.Decision)).
		Count("Decisions").
		Property("productId", job.ProductID).
		Flush()

	log.Info().
		Str("product_id", job.ProductID).
		Str("decision", string(req.Decision)).
		Str("moderator", req.ModeratorID).
		Msg("Decision applied")
	return nil
}

// Requeue returns a failed job to the queue for another attempt. Failed jobs
// are never retried automatically; this is the one path back.
func (p *Processor) Requeue(ctx context.Context, productID string) error {
	err := p.jobs.Transition(ctx, productID, store.StatusFailed, store.StatusPending, store.Fields{})
	if err != nil {
		return fmt.Errorf("requeueing job %s: %w", productID, err)
	}
	log.Info().Str("product_id", productID).Msg("Failed job requeued")
	return nil
}

// approve promotes the video and every reference to the approved tier, then
// records the terminal decision.
func (p *Processor) approve(ctx context.Context, job *store.Job, req Request) error {
	videoSrc, err := storage.ParseURI(job.VideoURI)
	if err != nil {
		return fmt.Errorf("job %s video uri: %w", job.ProductID, err)
	}
	videoDst := storage.Ref{Bucket: p.tiers.Approved, Key: job.ProductID + "/" + videoSrc.Filename()}
	if err := p.mover.Move(ctx, videoSrc, videoDst); err != nil {
		return fmt.Errorf("approving video: %w", err)
	}

	srcs, err := parseRefs(job)
	if err != nil {
		return err
	}
	moved, err := p.mover.MoveAll(ctx, srcs, p.tiers.Approved, job.ProductID)
	if err != nil {
		return fmt.Errorf("approving references: %w", err)
	}

	videoURI := videoDst.URI()
	f := store.Fields{
		VideoURI:      &videoURI,
		ReferenceURIs: uris(moved),
		Decision:      &req.Decision,
		Notes:         &req.EditedNotes,
		ModeratorID:   &req.ModeratorID,
	}
	if req.EditedPrompt != "" {
		f.Prompt = &req.EditedPrompt
	}
	if err := p.jobs.Transition(ctx, job.ProductID, store.StatusCompleted, store.StatusModerated, f); err != nil {
		return fmt.Errorf("recording approval: %w", err)
	}
	return nil
}

// reject returns the references to the input tier, discards the video, and
// records the terminal decision.
func (p *Processor) reject(ctx context.Context, job *store.Job, req Request) error {
	returned, err := p.returnAssets(ctx, job)
	if err != nil {
		return err
	}

	empty := ""
	f := store.Fields{
		VideoURI:      &empty,
		ReferenceURIs: returned,
		Decision:      &req.Decision,
		Notes:         &req.EditedNotes,
		ModeratorID:   &req.ModeratorID,
	}
	if err := p.jobs.Transition(ctx, job.ProductID, store.StatusCompleted, store.StatusModerated, f); err != nil {
		return fmt.Errorf("recording rejection: %w", err)
	}
	return nil
}

// regenerate returns the assets like a rejection but requeues the job. The
// edited prompt drives the next attempt; the decision itself lands only in
// the audit trail, attempts stay untouched until the next claim.
func (p *Processor) regenerate(ctx context.Context, job *store.Job, req Request) error {
	returned, err := p.returnAssets(ctx, job)
	if err != nil {
		return err
	}

	empty := ""
	f := store.Fields{
		VideoURI:      &empty,
		ReferenceURIs: returned,
	}
	if req.EditedPrompt != "" {
		f.Prompt = &req.EditedPrompt
	}
	if req.EditedNotes != "" {
		f.Notes = &req.EditedNotes
	}
	if err := p.jobs.Transition(ctx, job.ProductID, store.StatusCompleted, store.StatusPending, f); err != nil {
		return fmt.Errorf("requeueing for regeneration: %w", err)
	}
	return nil
}

// returnAssets moves the references back to the input tier under the job's
// category and deletes the video object. It returns the input-tier URIs in
// reference order.
func (p *Processor) returnAssets(ctx context.Context, job *store.Job) ([]string, error) {
	srcs, err := parseRefs(job)
	if err != nil {
		return nil, err
	}
	moved, err := p.mover.MoveAll(ctx, srcs, p.tiers.Input, job.Category)
	if err != nil {
		return nil, fmt.Errorf("returning references: %w", err)
	}

	if job.VideoURI != "" {
		videoRef, err := storage.ParseURI(job.VideoURI)
		if err != nil {
			return nil, fmt.Errorf("job %s video uri: %w", job.ProductID, err)
		}
		if err := p.objects.Delete(ctx, videoRef); err != nil {
			return nil, fmt.Errorf("deleting rejected video: %w", err)
		}
	}
	return uris(moved), nil
}

// appendAudit records the decision in the append-only trail. The decision
// already applied; an audit write failure is logged, not returned, so the
// moderator is not pushed into retrying an applied decision.
func (p *Processor) appendAudit(ctx context.Context, job *store.Job, req Request) {
	prompt := job.Prompt
	if req.EditedPrompt != "" {
		prompt = req.EditedPrompt
	}
	rec := &store.DecisionRecord{
		ID:          uuid.NewString(),
		ProductID:   job.ProductID,
		Decision:    req.Decision,
		ModeratorID: req.ModeratorID,
		Prompt:      prompt,
		Notes:       req.EditedNotes,
		Timestamp:   store.Now(),
	}
	if err := p.jobs.AppendDecision(ctx, rec); err != nil {
		log.Error().
			Err(err).
			Str("product_id", job.ProductID).
			Str("decision", string(req.Decision)).
			Msg("Failed to append decision audit record")
	}
}

func parseRefs(job *store.Job) ([]storage.Ref, error) {
	refs := make([]storage.Ref, len(job.ReferenceURIs))
	for i, uri := range job.ReferenceURIs {
		ref, err := storage.ParseURI(uri)
		if err != nil {
			return nil, fmt.Errorf("job %s reference %d: %w", job.ProductID, i, err)
		}
		refs[i] = ref
	}
	return refs, nil
}

func uris(refs []storage.Ref) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.URI()
	}
	return out
}
