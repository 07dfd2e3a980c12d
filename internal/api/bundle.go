package api

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/store"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE
// 6.3.7). Level 12 maps to SpeedBestCompression in klauspost/compress;
// extracting the bundle needs a zstd-aware unzip.
const zipMethodZstd uint16 = 93

func init() {
	zip.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	})
}

type bundleEntry struct {
	name string
	data []byte
}

// GET /api/jobs/{id}/bundle
//
// Streams a ZIP of the job's current assets (video plus references, wherever
// their URIs point). Every asset is fetched before the first response byte so
// a missing object still maps to a clean error status.
func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	job, err := s.jobs.Get(r.Context(), productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to load job for bundle")
		httpError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}

	uris := make([]string, 0, len(job.ReferenceURIs)+1)
	if job.VideoURI != "" {
		uris = append(uris, job.VideoURI)
	}
	uris = append(uris, job.ReferenceURIs...)
	if len(uris) == 0 {
		httpError(w, http.StatusNotFound, "job has no assets")
		return
	}

	entries := make([]bundleEntry, 0, len(uris))
	for _, uri := range uris {
		ref, err := storage.ParseURI(uri)
		if err != nil {
			log.Error().Err(err).Str("product_id", productID).Msg("Bad asset URI on ledger row")
			httpError(w, http.StatusBadGateway, "ledger row carries a bad asset URI")
			return
		}
		data, err := s.objects.Get(r.Context(), ref)
		if err != nil {
			log.Error().Err(err).Str("product_id", productID).Str("uri", uri).Msg("Failed to fetch asset for bundle")
			httpError(w, http.StatusBadGateway, fmt.Sprintf("asset unavailable: %s", ref.Filename()))
			return
		}
		entries = append(entries, bundleEntry{name: ref.Filename(), data: data})
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-bundle.zip"`, productID))
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	for _, entry := range entries {
		writer, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entry.name,
			Method:   zipMethodZstd,
			Modified: time.Now(),
		})
		if err != nil {
			log.Error().Err(err).Str("file", entry.name).Msg("Failed to create ZIP entry")
			return
		}
		if _, err := writer.Write(entry.data); err != nil {
			log.Error().Err(err).Str("file", entry.name).Msg("Failed to write ZIP entry")
			return
		}
	}
	if err := zw.Close(); err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to finish bundle ZIP")
	}
}
