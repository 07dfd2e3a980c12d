package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/moderation"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/store"
)

var testTiers = storage.Tiers{Input: "input", Processed: "processed", Approved: "approved"}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore, *storage.MemoryStore) {
	t.Helper()
	jobs := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	processor := moderation.New(jobs, objects, testTiers)
	return NewServer(jobs, objects, processor), jobs, objects
}

func doRequest(t *testing.T, srv *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v, want status ok", body)
	}
}

func TestQueue_OldestFirst(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	seed := []*store.Job{
		{ProductID: "300", Category: "clothes", Status: store.StatusCompleted, LastUpdated: "2026-08-25T10:00:00.000000000Z"},
		{ProductID: "100", Category: "clothes", Status: store.StatusCompleted, LastUpdated: "2026-08-25T08:00:00.000000000Z"},
		{ProductID: "200", Category: "clothes", Status: store.StatusPending, LastUpdated: "2026-08-25T09:00:00.000000000Z"},
	}
	for _, job := range seed {
		if err := jobs.Insert(ctx, job); err != nil {
			t.Fatalf("inserting %s: %v", job.ProductID, err)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/review/queue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Jobs  []store.Job `json:"jobs"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2 (pending jobs stay out of the queue)", body.Count)
	}
	if body.Jobs[0].ProductID != "100" || body.Jobs[1].ProductID != "300" {
		t.Errorf("queue order = %s, %s; want 100, 300", body.Jobs[0].ProductID, body.Jobs[1].ProductID)
	}
}

func TestQueue_MethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/review/queue", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	if err := jobs.Insert(ctx, &store.Job{ProductID: "100", Category: "clothes", Status: store.StatusPending}); err != nil {
		t.Fatalf("inserting job: %v", err)
	}
	for _, d := range []store.Decision{store.DecisionRegenerate, store.DecisionApprove} {
		if err := jobs.AppendDecision(ctx, &store.DecisionRecord{ProductID: "100", Decision: d}); err != nil {
			t.Fatalf("appending decision: %v", err)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/jobs/100", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Job       store.Job              `json:"job"`
		Decisions []store.DecisionRecord `json:"decisions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Job.ProductID != "100" {
		t.Errorf("job id = %q, want 100", body.Job.ProductID)
	}
	if len(body.Decisions) != 2 {
		t.Errorf("decisions = %d, want 2", len(body.Decisions))
	}
}

func TestGetJob_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/jobs/999", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// seedCompleted stores a reviewable job with its assets in the processed tier.
func seedCompleted(t *testing.T, jobs *store.MemoryStore, objects *storage.MemoryStore) {
	t.Helper()
	objects.Seed(storage.Ref{Bucket: "processed", Key: "200/200_01.webp"}, []byte("ref-1"))
	objects.Seed(storage.Ref{Bucket: "processed", Key: "200/200.mp4"}, []byte("video"))
	err := jobs.Insert(httptest.NewRequest(http.MethodGet, "/", nil).Context(), &store.Job{
		ProductID:     "200",
		Category:      "clothes",
		ReferenceURIs: []string{"s3://processed/200/200_01.webp"},
		VideoURI:      "s3://processed/200/200.mp4",
		Prompt:        "studio shot",
		Status:        store.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("inserting job: %v", err)
	}
}

func TestDecision_Approve(t *testing.T) {
	srv, jobs, objects := newTestServer(t)
	seedCompleted(t, jobs, objects)

	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/200/decision",
		`{"decision":"approve","notes":"ship it","moderatorId":"mod-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}

	job, _ := jobs.Get(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "200")
	if job.Status != store.StatusModerated || job.Decision != store.DecisionApprove {
		t.Errorf("job = %s/%s, want MODERATED/approve", job.Status, job.Decision)
	}
	ok, _ := objects.Exists(httptest.NewRequest(http.MethodGet, "/", nil).Context(), storage.Ref{Bucket: "approved", Key: "200/200.mp4"})
	if !ok {
		t.Error("approved video missing after decision")
	}
}

func TestDecision_Conflict(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	if err := jobs.Insert(ctx, &store.Job{ProductID: "100", Status: store.StatusPending}); err != nil {
		t.Fatalf("inserting job: %v", err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/100/decision", `{"decision":"approve"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestDecision_BadRequests(t *testing.T) {
	srv, jobs, objects := newTestServer(t)
	seedCompleted(t, jobs, objects)

	tests := []struct {
		name string
		body string
	}{
		{"unknown decision", `{"decision":"maybe"}`},
		{"empty decision", `{}`},
		{"malformed json", `{"decision":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodPost, "/api/jobs/200/decision", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestDecision_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/999/decision", `{"decision":"approve"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRequeue(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	if err := jobs.Insert(ctx, &store.Job{ProductID: "100", Status: store.StatusFailed, LastError: "boom"}); err != nil {
		t.Fatalf("inserting job: %v", err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/100/requeue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["status"] != string(store.StatusPending) {
		t.Errorf("body = %v, want status PENDING", body)
	}

	// A second requeue finds the job already pending.
	rec = doRequest(t, srv, http.MethodPost, "/api/jobs/100/requeue", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second requeue status = %d, want 409", rec.Code)
	}
}

func TestBundle(t *testing.T) {
	zip.RegisterDecompressor(zipMethodZstd, func(r io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(r)
		if err != nil {
			t.Fatalf("creating zstd reader: %v", err)
		}
		return dec.IOReadCloser()
	})

	srv, jobs, objects := newTestServer(t)
	seedCompleted(t, jobs, objects)

	rec := doRequest(t, srv, http.MethodGet, "/api/jobs/200/bundle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content type = %q, want application/zip", ct)
	}

	body := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("opening bundle ZIP: %v", err)
	}
	want := map[string]string{
		"200.mp4":     "video",
		"200_01.webp": "ref-1",
	}
	if len(zr.File) != len(want) {
		t.Fatalf("bundle entries = %d, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		wantData, ok := want[f.Name]
		if !ok {
			t.Errorf("unexpected bundle entry %q", f.Name)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("opening entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("reading entry %s: %v", f.Name, err)
		}
		if string(data) != wantData {
			t.Errorf("entry %s = %q, want %q", f.Name, data, wantData)
		}
	}
}

func TestBundle_MissingAsset(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	err := jobs.Insert(ctx, &store.Job{
		ProductID: "200",
		VideoURI:  "s3://processed/200/200.mp4",
		Status:    store.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("inserting job: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/jobs/200/bundle", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestParseJobRoute(t *testing.T) {
	tests := []struct {
		path   string
		id     string
		action string
		ok     bool
	}{
		{"/api/jobs/100", "100", "", true},
		{"/api/jobs/100/decision", "100", "decision", true},
		{"/api/jobs/100/requeue", "100", "requeue", true},
		{"/api/jobs/100/bundle", "100", "bundle", true},
		{"/api/jobs/", "", "", false},
		{"/api/jobs/100/decision/extra", "", "", false},
		{"/api/jobs//decision", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, action, ok := parseJobRoute(tt.path)
			if id != tt.id || action != tt.action || ok != tt.ok {
				t.Errorf("parseJobRoute(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.path, id, action, ok, tt.id, tt.action, tt.ok)
			}
		})
	}
}
