// Package worker runs the generation loop. A single loop claims one PENDING
// job at a time, renders its video, stages the assets in the processed tier,
// and records the outcome on the ledger row. Claim contention with other
// processes is resolved by the ledger's guarded transition, not by locks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/imagecheck"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/metrics"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/store"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/videogen"
)

// Defaults for Config fields left zero.
const (
	DefaultIdle              = 10 * time.Second
	DefaultCooldown          = 31 * time.Second
	DefaultGenerationTimeout = 15 * time.Minute
)

// Config tunes the loop's pacing.
type Config struct {
	// Idle is the sleep between passes that found nothing to claim.
	Idle time.Duration

	// Cooldown is the sleep after every claim, successful or not. The
	// default keeps successive Veo calls under the preview quota of two
	// requests per minute.
	Cooldown time.Duration

	// GenerationTimeout bounds a single generation call, polling included.
	GenerationTimeout time.Duration
}

// Loop is the generation worker.
type Loop struct {
	jobs      store.Store
	objects   storage.ObjectStore
	mover     *storage.Mover
	tiers     storage.Tiers
	generator videogen.Generator
	cfg       Config
}

// New creates a Loop. Zero Config fields take the package defaults.
func New(jobs store.Store, objects storage.ObjectStore, tiers storage.Tiers, generator videogen.Generator, cfg Config) *Loop {
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultIdle
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	return &Loop{
		jobs:      jobs,
		objects:   objects,
		mover:     storage.NewMover(objects),
		tiers:     tiers,
		generator: generator,
		cfg:       cfg,
	}
}

// Run polls until ctx is cancelled. Pass failures are logged and retried on
// the next pass; only cancellation ends the loop.
func (l *Loop) Run(ctx context.Context) error {
	log.Info().
		Dur("idle", l.cfg.Idle).
		Dur("cooldown", l.cfg.Cooldown).
		Dur("generation_timeout", l.cfg.GenerationTimeout).
		Msg("Worker loop started")

	for {
		claimed, err := l.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Worker loop stopping")
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Worker pass failed")
		}

		wait := l.cfg.Idle
		if claimed {
			wait = l.cfg.Cooldown
		}
		if err := l.sleep(ctx, wait); err != nil {
			log.Info().Msg("Worker loop stopping")
			return err
		}
	}
}

// RunOnce claims and processes at most one pending job. It reports whether a
// claim happened so the caller can choose between the cooldown and idle
// sleeps. Failures inside a claimed job are recorded on the row, not
// returned; the returned error covers only the steps before a claim.
func (l *Loop) RunOnce(ctx context.Context) (bool, error) {
	pending, err := l.jobs.ListByStatus(ctx, store.StatusPending, true, 1)
	if err != nil {
		if errors.Is(err, store.ErrTransient) {
			log.Debug().Err(err).Msg("Ledger throttled, retrying next pass")
			return false, nil
		}
		return false, fmt.Errorf("listing pending jobs: %w", err)
	}
	if len(pending) == 0 {
		return false, nil
	}
	job := pending[0]

	err = l.jobs.Transition(ctx, job.ProductID, store.StatusPending, store.StatusGenerating, store.Fields{
		IncrementAttempts: true,
	})
	switch {
	case errors.Is(err, store.ErrInvalidState), errors.Is(err, store.ErrNotFound):
		log.Debug().Str("product_id", job.ProductID).Msg("Job no longer pending, skipping")
		return false, nil
	case errors.Is(err, store.ErrTransient):
		log.Debug().Str("product_id", job.ProductID).Msg("Ledger throttled during claim, retrying next pass")
		return false, nil
	case err != nil:
		return false, fmt.Errorf("claiming job %s: %w", job.ProductID, err)
	}

	attempt := job.Attempts + 1
	log.Info().
		Str("product_id", job.ProductID).
		Str("category", job.Category).
		Int("attempt", attempt).
		Msg("Claimed pending job")

	rec := metrics.New(metrics.Namespace).
		Dimension("Operation", "generate").
		Property("productId", job.ProductID).
		Property("attempt", attempt)
	start := time.Now()

	if err := l.process(ctx, job); err != nil {
		rec.Duration("GenerationDuration", time.Since(start)).Count("GenerationFailed").Flush()
		l.fail(ctx, job.ProductID, err)
		return true, nil
	}
	rec.Duration("GenerationDuration", time.Since(start)).Count("GenerationSucceeded").Flush()
	return true, nil
}

// process runs one claimed job end to end: fetch and validate references,
// generate, upload the video, move the references, record completion.
func (l *Loop) process(ctx context.Context, job *store.Job) error {
	if len(job.ReferenceURIs) == 0 {
		return fmt.Errorf("job %s has no reference images", job.ProductID)
	}

	srcs := make([]storage.Ref, len(job.ReferenceURIs))
	for i, uri := range job.ReferenceURIs {
		ref, err := storage.ParseURI(uri)
		if err != nil {
			return fmt.Errorf("reference %d: %w", i, err)
		}
		srcs[i] = ref
	}

	// The generator accepts a bounded number of conditioning images; every
	// reference still moves with the job below.
	limit := len(srcs)
	if limit > videogen.MaxReferenceImages {
		log.Debug().
			Str("product_id", job.ProductID).
			Int("references", len(srcs)).
			Int("limit", videogen.MaxReferenceImages).
			Msg("Conditioning on the first references only")
		limit = videogen.MaxReferenceImages
	}

	references := make([]videogen.Reference, 0, limit)
	for _, src := range srcs[:limit] {
		data, err := l.fetchReference(ctx, src, job.ProductID)
		if err != nil {
			return err
		}
		info, err := imagecheck.Validate(src.Filename(), data)
		if err != nil {
			return fmt.Errorf("reference %s: %w", src.URI(), err)
		}
		references = append(references, videogen.Reference{
			Name:     src.Filename(),
			MIMEType: info.MIMEType,
			Data:     data,
		})
	}

	gctx, cancel := context.WithTimeout(ctx, l.cfg.GenerationTimeout)
	defer cancel()
	video, err := l.generator.Generate(gctx, videogen.Request{
		ProductID:  job.ProductID,
		Category:   job.Category,
		Prompt:     job.Prompt,
		References: references,
	})
	if err != nil {
		return fmt.Errorf("generating video: %w", err)
	}

	videoRef := storage.Ref{
		Bucket: l.tiers.Processed,
		Key:    job.ProductID + "/" + job.ProductID + ".mp4",
	}
	if err := l.objects.Put(ctx, videoRef, video.Data, video.MIMEType); err != nil {
		return fmt.Errorf("storing video at %s: %w", videoRef.URI(), err)
	}

	moved, err := l.mover.MoveAll(ctx, srcs, l.tiers.Processed, job.ProductID)
	if err != nil {
		return fmt.Errorf("staging references: %w", err)
	}
	movedURIs := make([]string, len(moved))
	for i, ref := range moved {
		movedURIs[i] = ref.URI()
	}

	videoURI := videoRef.URI()
	noErr := ""
	err = l.jobs.Transition(ctx, job.ProductID, store.StatusGenerating, store.StatusCompleted, store.Fields{
		VideoURI:      &videoURI,
		ReferenceURIs: movedURIs,
		LastError:     &noErr,
	})
	if err != nil {
		return fmt.Errorf("recording completion: %w", err)
	}

	log.Info().
		Str("product_id", job.ProductID).
		Str("video_uri", videoURI).
		Msg("Video staged for review")
	return nil
}

// fetchReference reads one reference image. An earlier attempt that failed
// between moving its references and the ledger write leaves them in the
// processed tier; the fallback read lets a requeued job finish from that
// state, and the later move settles the half-moved object.
func (l *Loop) fetchReference(ctx context.Context, src storage.Ref, productID string) ([]byte, error) {
	data, err := l.objects.Get(ctx, src)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("reading reference %s: %w", src.URI(), err)
	}

	staged := storage.Ref{Bucket: l.tiers.Processed, Key: productID + "/" + src.Filename()}
	data, stagedErr := l.objects.Get(ctx, staged)
	if stagedErr != nil {
		return nil, fmt.Errorf("reading reference %s: %w", src.URI(), err)
	}
	log.Debug().
		Str("reference", src.URI()).
		Str("staged", staged.URI()).
		Msg("Reference already staged in processed tier")
	return data, nil
}

// fail records a processing failure on the row. FAILED rows are never
// retried automatically; an operator requeues them explicitly.
func (l *Loop) fail(ctx context.Context, productID string, cause error) {
	log.Error().Err(cause).Str("product_id", productID).Msg("Generation attempt failed")

	msg := cause.Error()
	err := l.jobs.Transition(ctx, productID, store.StatusGenerating, store.StatusFailed, store.Fields{
		LastError: &msg,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("product_id", productID).
			Msg("Failed to record failure, row remains in GENERATING")
	}
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
