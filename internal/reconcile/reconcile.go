// Package reconcile aligns the job ledger with the live contents of the
// storage tiers.
//
// Upstream triggers are delivered at least once and arrive in any order, so
// reconciliation is the only component that creates ledger rows: every pass
// recomputes the diff between tiers and ledger and applies only the missing
// pieces. Running a pass twice with no storage change applies nothing.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/assets"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/notify"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/prompts"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/store"
)

// Result counts the mutations one reconciliation pass applied.
type Result struct {
	Inserted   int
	Backfilled int
}

// Reconciler diffs storage tiers against the ledger. Safe to run while the
// worker loop is live: it only inserts missing rows and backfills rows the
// worker has not claimed.
type Reconciler struct {
	objects  storage.ObjectStore
	tiers    storage.Tiers
	grouper  *assets.Grouper
	jobs     store.Store
	notifier notify.Notifier
}

// New creates a Reconciler. notifier may be nil; discovery events are then
// skipped.
func New(objects storage.ObjectStore, tiers storage.Tiers, jobs store.Store, notifier notify.Notifier) *Reconciler {
	return &Reconciler{
		objects:  objects,
		tiers:    tiers,
		grouper:  assets.NewGrouper(tiers.Input),
		jobs:     jobs,
		notifier: notifier,
	}
}

// Reconcile runs one pass: insert a row per asset group the ledger does not
// know, backfill PENDING rows whose video appeared out of order. Failures
// local to one group or row are logged and skipped; only listing failures
// abort the pass.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	listing, err := r.objects.List(ctx, r.tiers.Input, "")
	if err != nil {
		return Result{}, fmt.Errorf("listing input tier: %w", err)
	}
	groups, err := r.grouper.Scan(listing)
	if err != nil {
		return Result{}, fmt.Errorf("grouping input tier: %w", err)
	}

	videos, err := r.videoIndex(ctx)
	if err != nil {
		return Result{}, err
	}

	rows, err := r.jobs.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing ledger rows: %w", err)
	}
	known := make(map[string]bool, len(rows))
	for _, row := range rows {
		known[row.ProductID] = true
	}

	var result Result
	for _, group := range groups {
		if known[group.ProductID] {
			continue
		}
		if r.insertGroup(ctx, group, videos) {
			result.Inserted++
			known[group.ProductID] = true
		}
	}

	for _, row := range rows {
		if row.Status != store.StatusPending || row.VideoURI != "" {
			continue
		}
		videoURI, ok := videos[row.ProductID]
		if !ok {
			continue
		}
		if r.backfillRow(ctx, row.ProductID, videoURI) {
			result.Backfilled++
		}
	}

	log.Info().
		Int("groups", len(groups)).
		Int("inserted", result.Inserted).
		Int("backfilled", result.Backfilled).
		Msg("Reconciliation pass complete")
	return result, nil
}

// insertGroup creates the ledger row for a new asset group and reports
// whether a row was actually inserted.
func (r *Reconciler) insertGroup(ctx context.Context, group assets.Group, videos map[string]string) bool {
	job := &store.Job{
		ProductID:     group.ProductID,
		Category:      group.Category,
		ReferenceURIs: group.ReferenceURIs,
		Prompt:        prompts.ForCategory(group.Category),
		Status:        store.StatusPending,
	}
	// A video that arrived before its row gets recorded at insert time, so
	// the fresh row never needs an immediate transition.
	if videoURI, ok := videos[group.ProductID]; ok {
		job.Status = store.StatusCompleted
		job.VideoURI = videoURI
	}

	err := r.jobs.Insert(ctx, job)
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		// A concurrent pass inserted it first.
		return false
	case errors.Is(err, store.ErrTransient):
		log.Warn().Err(err).Str("product_id", group.ProductID).Msg("Ledger unavailable, row deferred to the next pass")
		return false
	case err != nil:
		log.Error().Err(err).Str("product_id", group.ProductID).Msg("Failed to insert job row")
		return false
	}

	log.Debug().
		Str("product_id", group.ProductID).
		Str("category", group.Category).
		Str("status", string(job.Status)).
		Int("reference_count", len(group.ReferenceURIs)).
		Msg("Inserted job row")

	if r.notifier != nil {
		if err := r.notifier.AssetGroupDiscovered(ctx, group); err != nil {
			log.Warn().Err(err).Str("product_id", group.ProductID).Msg("Discovery notification failed")
		}
	}
	return true
}

// backfillRow completes a PENDING row whose video showed up out of order.
func (r *Reconciler) backfillRow(ctx context.Context, productID, videoURI string) bool {
	err := r.jobs.Transition(ctx, productID, store.StatusPending, store.StatusCompleted, store.Fields{
		VideoURI: &videoURI,
	})
	switch {
	case errors.Is(err, store.ErrInvalidState):
		// The worker claimed the row between listing and update.
		return false
	case errors.Is(err, store.ErrTransient):
		log.Debug().Str("product_id", productID).Msg("Ledger unavailable, backfill deferred to the next pass")
		return false
	case err != nil:
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to backfill job row")
		return false
	}
	log.Debug().Str("product_id", productID).Str("video_uri", videoURI).Msg("Backfilled job row")
	return true
}

// videoIndex maps product ids to the generated videos present in the
// processed tier. The id is the first path segment for nested keys and the
// filename stem for keys at the bucket root; either way it must start with a
// digit. The first video listed for an id wins.
func (r *Reconciler) videoIndex(ctx context.Context) (map[string]string, error) {
	listing, err := r.objects.List(ctx, r.tiers.Processed, "")
	if err != nil {
		return nil, fmt.Errorf("listing processed tier: %w", err)
	}

	videos := make(map[string]string)
	for _, obj := range listing {
		if strings.ToLower(path.Ext(obj.Key)) != ".mp4" {
			continue
		}
		productID, ok := videoProductID(obj.Key)
		if !ok {
			continue
		}
		if _, exists := videos[productID]; exists {
			continue
		}
		videos[productID] = storage.Ref{Bucket: r.tiers.Processed, Key: obj.Key}.URI()
	}
	return videos, nil
}

func videoProductID(key string) (string, bool) {
	if dir, _, nested := strings.Cut(key, "/"); nested {
		return dir, isDigitPrefixed(dir)
	}
	stem := strings.TrimSuffix(key, path.Ext(key))
	return stem, isDigitPrefixed(stem)
}

func isDigitPrefixed(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}
