package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/store"
)

// SweepStrays removes processed-tier objects left behind by moves whose
// delete half failed. Only MODERATED rows are swept: their assets have
// conclusively left the processed tier, so anything still under their
// product prefix is a duplicate. Rows in every other status may legitimately
// own processed-tier objects and are never touched.
func (r *Reconciler) SweepStrays(ctx context.Context) (int, error) {
	rows, err := r.jobs.ListByStatus(ctx, store.StatusModerated, true, 0)
	if err != nil {
		return 0, fmt.Errorf("listing moderated rows: %w", err)
	}

	swept := 0
	for _, row := range rows {
		listing, err := r.objects.List(ctx, r.tiers.Processed, row.ProductID+"/")
		if err != nil {
			log.Error().Err(err).Str("product_id", row.ProductID).Msg("Failed to list processed tier for sweep")
			continue
		}
		for _, obj := range listing {
			ref := storage.Ref{Bucket: r.tiers.Processed, Key: obj.Key}
			if err := r.objects.Delete(ctx, ref); err != nil {
				log.Error().Err(err).Str("uri", ref.URI()).Msg("Failed to delete stray object")
				continue
			}
			swept++
			log.Debug().Str("uri", ref.URI()).Str("product_id", row.ProductID).Msg("Deleted stray object")
		}
	}

	if swept > 0 {
		log.Info().Int("swept", swept).Msg("Stray sweep complete")
	}
	return swept, nil
}
