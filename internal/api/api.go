// Package api serves the moderation HTTP surface. The same handler tree runs
// behind API Gateway in cmd/moderation-lambda and on a plain listener in
// cmd/moderation-api.
//
// Endpoints:
//
//	GET  /healthz                   health check
//	GET  /api/review/queue          jobs awaiting review, oldest first
//	GET  /api/jobs/{id}             one job with its decision history
//	POST /api/jobs/{id}/decision    apply a moderation decision
//	POST /api/jobs/{id}/requeue     return a failed job to the queue
//	GET  /api/jobs/{id}/bundle      ZIP of the job's current assets
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/moderation"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/store"
)

// Server holds the collaborators behind the moderation API.
type Server struct {
	jobs      store.Store
	objects   storage.ObjectStore
	processor *moderation.Processor
}

// NewServer creates a Server.
func NewServer(jobs store.Store, objects storage.ObjectStore, processor *moderation.Processor) *Server {
	return &Server{
		jobs:      jobs,
		objects:   objects,
		processor: processor,
	}
}

// Handler returns the routed handler tree with request logging attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/review/queue", s.handleQueue)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)
	return withLogging(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "video-quality-tool",
	})
}

// GET /api/review/queue
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobs, err := s.jobs.ListByStatus(r.Context(), store.StatusCompleted, true, 0)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list review queue")
		httpError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleJobRoutes dispatches /api/jobs/{id} and /api/jobs/{id}/{action}.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	productID, action, ok := parseJobRoute(r.URL.Path)
	if !ok {
		httpError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		s.handleJob(w, r, productID)
	case "decision":
		s.handleDecision(w, r, productID)
	case "requeue":
		s.handleRequeue(w, r, productID)
	case "bundle":
		s.handleBundle(w, r, productID)
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// GET /api/jobs/{id}
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, productID string) {
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
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to load job")
		httpError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}

	decisions, err := s.jobs.ListDecisions(r.Context(), productID)
	if err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to load decision history")
		httpError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":       job,
		"decisions": decisions,
	})
}

// decisionBody is the POST /api/jobs/{id}/decision payload.
type decisionBody struct {
	Decision    string `json:"decision"`
	Prompt      string `json:"prompt"`
	Notes       string `json:"notes"`
	ModeratorID string `json:"moderatorId"`
}

// POST /api/jobs/{id}/decision
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body decisionBody
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	decision := store.Decision(body.Decision)
	if !decision.Valid() {
		httpError(w, http.StatusBadRequest, "decision must be approve, reject, or regenerate")
		return
	}

	err := s.processor.Decide(r.Context(), moderation.Request{
		ProductID:    productID,
		Decision:     decision,
		EditedPrompt: body.Prompt,
		EditedNotes:  body.Notes,
		ModeratorID:  body.ModeratorID,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, store.ErrInvalidState):
		httpError(w, http.StatusConflict, "job is not awaiting review")
	case err != nil:
		log.Error().Err(err).Str("product_id", productID).Msg("Decision failed")
		httpError(w, http.StatusBadGateway, err.Error())
	default:
		respondJSON(w, http.StatusOK, map[string]string{
			"productId": productID,
			"decision":  body.Decision,
		})
	}
}

// POST /api/jobs/{id}/requeue
func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	err := s.processor.Requeue(r.Context(), productID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, store.ErrInvalidState):
		httpError(w, http.StatusConflict, "only failed jobs can be requeued")
	case err != nil:
		log.Error().Err(err).Str("product_id", productID).Msg("Requeue failed")
		httpError(w, http.StatusBadGateway, "ledger unavailable")
	default:
		respondJSON(w, http.StatusOK, map[string]string{
			"productId": productID,
			"status":    string(store.StatusPending),
		})
	}
}

// parseJobRoute extracts the product id and optional action from a URL path
// like /api/jobs/{id} or /api/jobs/{id}/{action}.
func parseJobRoute(path string) (productID, action string, ok bool) {
	rest := strings.TrimPrefix(path, "/api/jobs/")
	if rest == "" || rest == path {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return parts[0], "", true
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], true
	}
	return "", "", false
}

// --- Middleware ---

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}
	})
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func httpError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
