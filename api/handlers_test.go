package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/compliance"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/health"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/service"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/sla"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/store"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

const testKey = "test-api-key-0123456789"

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router   *gin.Engine
	store    *store.MemoryStore
	registry *sla.Registry
}

func newTestServer(t *testing.T, checker *health.Checker) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	registry := sla.NewDefaultRegistry()
	engine := service.NewEngine(s, s, compliance.NewChecker(7), sla.NewMonitor(registry), zerolog.Nop(),
		service.WithClock(func() time.Time { return fixedNow }))

	h := NewHandler(engine, s, registry, checker)
	h.now = func() time.Time { return fixedNow }

	r := gin.New()
	h.RegisterRoutes(r, APIKeyAuth(testKey))
	return &testServer{router: r, store: s, registry: registry}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

// seedCompliantJob posts a job with three copies that satisfy the rule.
func (ts *testServer) seedCompliantJob(t *testing.T) {
	t.Helper()
	if w := ts.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"id": "job-1", "name": "fileserver"}); w.Code != http.StatusCreated {
		t.Fatalf("create job: %d %s", w.Code, w.Body.String())
	}
	copies := []gin.H{
		{"id": "c1", "role": "primary", "media_type": "disk", "status": "success"},
		{"id": "c2", "role": "offsite", "media_type": "cloud", "status": "success"},
		{"id": "c3", "role": "offline", "media_type": "tape", "status": "success", "last_backup_date": fixedNow.AddDate(0, 0, -2)},
	}
	for _, cp := range copies {
		if w := ts.do(t, http.MethodPost, "/api/v1/jobs/job-1/copies", cp); w.Code != http.StatusCreated {
			t.Fatalf("create copy: %d %s", w.Code, w.Body.String())
		}
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "not-the-right-key-at-all", http.StatusUnauthorized},
		{"x-api-key", "X-API-Key", testKey, http.StatusOK},
		{"bearer", "Authorization", "Bearer " + testKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sla/targets", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			ts.router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestServiceHealth(t *testing.T) {
	checker := health.NewChecker(time.Second)
	checker.Register("postgres", true, func(ctx context.Context) error { return nil })
	ts := newTestServer(t, checker)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "healthy" || body["service"] != "custodian" {
		t.Errorf("unexpected body %v", body)
	}

	checker.Register("redis", true, func(ctx context.Context) error { return errors.New("down") })
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with a critical dependency down, got %d", w.Code)
	}
}

func TestSaveJob(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"name": "  mail  "})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	job := decode[models.Job](t, w)
	if job.ID == "" || job.Name != "mail" || !job.Active || job.RetentionDays != 30 {
		t.Errorf("unexpected defaults %+v", job)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"id": "job-9", "name": "old", "active": false})
	if job := decode[models.Job](t, w); job.Active {
		t.Error("expected explicit inactive flag to be kept")
	}

	if w := ts.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"name": ""}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty name, got %d", w.Code)
	}
}

func TestSaveCopyValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"id": "job-1", "name": "fs"})

	tests := []struct {
		name string
		path string
		body gin.H
		want int
	}{
		{"unknown job", "/api/v1/jobs/nope/copies", gin.H{"role": "primary", "media_type": "disk"}, http.StatusNotFound},
		{"bad role", "/api/v1/jobs/job-1/copies", gin.H{"role": "attic", "media_type": "disk"}, http.StatusBadRequest},
		{"bad media", "/api/v1/jobs/job-1/copies", gin.H{"role": "primary", "media_type": "floppy"}, http.StatusBadRequest},
		{"bad status", "/api/v1/jobs/job-1/copies", gin.H{"role": "primary", "media_type": "disk", "status": "great"}, http.StatusBadRequest},
		{"malformed copy accepted", "/api/v1/jobs/job-1/copies", gin.H{"id": "c9"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(t, http.MethodPost, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestRecordExecution(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedCompliantJob(t)

	w := ts.do(t, http.MethodPost, "/api/v1/jobs/job-1/executions", gin.H{"copy_id": "c1", "result": "failed", "duration_seconds": 120})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	exec := decode[models.Execution](t, w)
	if exec.ID == "" || !exec.ExecutedAt.Equal(fixedNow) {
		t.Errorf("expected generated id and current time, got %+v", exec)
	}

	copies, _ := ts.store.ListCopies(context.Background(), "job-1")
	if copies[0].Status != models.CopyStatusFailed {
		t.Errorf("expected copy c1 marked failed, got %s", copies[0].Status)
	}

	if w := ts.do(t, http.MethodPost, "/api/v1/jobs/job-1/executions", gin.H{"result": "meh"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid result, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/v1/jobs/job-1/executions", gin.H{"result": "success", "copy_id": "nope"}); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown copy, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/v1/jobs/job-1/executions", gin.H{"result": "success", "duration_seconds": -5}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative duration, got %d", w.Code)
	}
}

func TestGetCompliance(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedCompliantJob(t)

	w := ts.do(t, http.MethodGet, "/api/v1/jobs/job-1/compliance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	result := decode[models.ComplianceResult](t, w)
	if !result.Compliant || result.Status != models.ComplianceStatusCompliant || result.CopiesCount != 3 {
		t.Errorf("unexpected result %+v", result)
	}

	// No cache configured: falls back to evaluation.
	w = ts.do(t, http.MethodGet, "/api/v1/jobs/job-1/compliance?cached=true", nil)
	if w.Header().Get("X-Cache") != "MISS" || w.Code != http.StatusOK {
		t.Errorf("expected cache miss with 200, got %q %d", w.Header().Get("X-Cache"), w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/jobs/ghost/compliance", nil)
	unknown := decode[models.ComplianceResult](t, w)
	if w.Code != http.StatusOK || unknown.Status != models.ComplianceStatusUnknown {
		t.Errorf("expected unknown result for missing job, got %d %+v", w.Code, unknown)
	}
}

func TestCheckAll(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedCompliantJob(t)
	ts.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"id": "job-2", "name": "bare"})

	w := ts.do(t, http.MethodPost, "/api/v1/compliance/check", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[struct {
		Count     int `json:"count"`
		Compliant int `json:"compliant"`
	}](t, w)
	if body.Count != 2 || body.Compliant != 1 {
		t.Errorf("unexpected summary %+v", body)
	}
}

func TestSLAAndReports(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedCompliantJob(t)
	for i := 0; i < 4; i++ {
		ts.do(t, http.MethodPost, "/api/v1/jobs/job-1/executions", gin.H{
			"result":           "success",
			"executed_at":      fixedNow.Add(-time.Duration(i+1) * time.Hour),
			"duration_seconds": 100,
			"size_bytes":       1 << 29,
		})
	}

	w := ts.do(t, http.MethodGet, "/api/v1/jobs/job-1/sla?days=7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	metrics := decode[models.SLAMetrics](t, w)
	if metrics.SuccessRate != 100 || !metrics.IsCompliant || metrics.WindowDays != 7 {
		t.Errorf("unexpected metrics %+v", metrics)
	}

	if w := ts.do(t, http.MethodGet, "/api/v1/jobs/nope/sla", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing job, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/jobs/job-1/sla?days=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative days, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/sla", nil)
	if body := decode[struct {
		Count int `json:"count"`
	}](t, w); body.Count != 1 {
		t.Errorf("expected metrics for one job, got %d", body.Count)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/jobs/job-1/trend?days=28&interval=7", nil)
	trend := decode[struct {
		Points []models.TrendPoint `json:"points"`
	}](t, w)
	if len(trend.Points) != 4 || trend.Points[3].TotalExecutions != 4 {
		t.Errorf("unexpected trend %+v", trend.Points)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/jobs/job-1/trend?interval=0", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero interval, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/reports/global?days=30", nil)
	stats := decode[models.GlobalStats](t, w)
	if stats.TotalExecutions != 4 || stats.TotalSizeGB != 2.0 || stats.ActiveJobs != 1 {
		t.Errorf("unexpected global stats %+v", stats)
	}
}

func TestSLATargets(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/sla/targets", gin.H{"name": "nightly", "min_success_rate": 99, "enabled": true})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[models.SLATarget](t, w)
	if created.ID == "" {
		t.Fatal("expected generated target id")
	}

	if w := ts.do(t, http.MethodGet, "/api/v1/sla/targets/"+created.ID, nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/sla/targets", nil)
	list := decode[struct {
		Targets []models.SLATarget `json:"targets"`
	}](t, w)
	if len(list.Targets) != 3 || list.Targets[2].ID != created.ID {
		t.Errorf("expected new target after defaults, got %+v", list.Targets)
	}

	if w := ts.do(t, http.MethodPost, "/api/v1/sla/targets", gin.H{"name": "bad", "min_success_rate": 150}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid target, got %d", w.Code)
	}

	if w := ts.do(t, http.MethodDelete, "/api/v1/sla/targets/"+created.ID, nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodDelete, "/api/v1/sla/targets/unknown", nil); w.Code != http.StatusOK {
		t.Errorf("expected unknown delete to succeed, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/sla/targets/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestWindowLimits(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedCompliantJob(t)
	exec := gin.H{"copy_id": "c1", "result": "success", "executed_at": fixedNow.AddDate(0, 0, -1)}
	if w := ts.do(t, http.MethodPost, "/api/v1/jobs/job-1/executions", exec); w.Code != http.StatusCreated {
		t.Fatalf("record execution: %d %s", w.Code, w.Body.String())
	}

	for _, days := range []string{"30", "3650"} {
		w := ts.do(t, http.MethodGet, "/api/v1/jobs/job-1/sla?days="+days, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("days=%s: expected 200, got %d", days, w.Code)
		}
		if m := decode[models.SLAMetrics](t, w); m.TotalExecutions != 1 || m.SuccessRate != 100 {
			t.Errorf("days=%s: unexpected metrics %+v", days, m)
		}
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"sla window too wide", "/api/v1/jobs/job-1/sla?days=200000", http.StatusBadRequest},
		{"all sla window too wide", "/api/v1/sla?days=3651", http.StatusBadRequest},
		{"global window too wide", "/api/v1/reports/global?days=9000000000000000000", http.StatusBadRequest},
		{"trend window too wide", "/api/v1/jobs/job-1/trend?days=3000000&interval=1", http.StatusBadRequest},
		{"trend too many intervals", "/api/v1/jobs/job-1/trend?days=3650&interval=1", http.StatusBadRequest},
		{"trend at interval limit", "/api/v1/jobs/job-1/trend?days=366&interval=1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(t, http.MethodGet, tt.path, nil); w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

// unreachableStore fails every listing with a driver-style error.
type unreachableStore struct {
	*store.MemoryStore
}

func (unreachableStore) ListActiveJobs(ctx context.Context) ([]*models.Job, error) {
	return nil, errors.New("pq: password authentication failed for user custodian")
}

func TestBackendErrorsAreNotExposed(t *testing.T) {
	s := unreachableStore{store.NewMemoryStore()}
	registry := sla.NewDefaultRegistry()
	engine := service.NewEngine(s, s, compliance.NewChecker(7), sla.NewMonitor(registry), zerolog.Nop(),
		service.WithClock(func() time.Time { return fixedNow }))
	r := gin.New()
	NewHandler(engine, s, registry, nil).RegisterRoutes(r)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/compliance/check"},
		{http.MethodGet, "/api/v1/sla"},
		{http.MethodGet, "/api/v1/reports/global"},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: expected 503, got %d", tc.method, tc.path, w.Code)
		}
		if bytes.Contains(w.Body.Bytes(), []byte("pq:")) {
			t.Errorf("%s %s: backend error leaked: %s", tc.method, tc.path, w.Body.String())
		}
	}
}
