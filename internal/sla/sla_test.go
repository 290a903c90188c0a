package sla

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func testJob() *models.Job {
	return &models.Job{ID: "job-1", Name: "fileserver", Active: true}
}

// executions builds n executions spaced one hour apart ending at last.
func executions(n int, result models.ExecutionResult, duration *int, last time.Time) []models.Execution {
	out := make([]models.Execution, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Execution{
			ID:              fmt.Sprintf("e-%s-%d", result, i),
			JobID:           "job-1",
			ExecutedAt:      last.Add(-time.Duration(i) * time.Hour),
			Result:          result,
			DurationSeconds: duration,
		})
	}
	return out
}

func successRateRegistry(t *testing.T, rate float64) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.Register(models.SLATarget{ID: "rate", Name: "rate", MinSuccessRate: rate, Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

// --- Registry ---

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()
	active := r.ListActive("any-job")
	if len(active) != 2 {
		t.Fatalf("expected 2 default targets, got %d", len(active))
	}
	if active[0].ID != DefaultSuccessRateTargetID || active[0].MinSuccessRate != 95.0 {
		t.Errorf("unexpected first default target: %+v", active[0])
	}
	if active[1].ID != DefaultMaxAgeTargetID || active[1].MaxAgeHours == nil || *active[1].MaxAgeHours != 36.0 {
		t.Errorf("unexpected second default target: %+v", active[1])
	}
}

func TestRegistry_ScopeAndOrder(t *testing.T) {
	r := NewRegistry()
	must := func(target models.SLATarget) {
		t.Helper()
		if err := r.Register(target); err != nil {
			t.Fatalf("register %s: %v", target.ID, err)
		}
	}
	must(models.SLATarget{ID: "global-a", MinSuccessRate: 90, Enabled: true})
	must(models.SLATarget{ID: "job-1-only", JobID: strPtr("job-1"), MaxDurationSeconds: intPtr(60), Enabled: true})
	must(models.SLATarget{ID: "job-2-only", JobID: strPtr("job-2"), MaxDurationSeconds: intPtr(60), Enabled: true})
	must(models.SLATarget{ID: "disabled", MinSuccessRate: 99, Enabled: false})
	must(models.SLATarget{ID: "global-b", MaxAgeHours: floatPtr(24), Enabled: true})

	got := r.ListActive("job-1")
	want := []string{"global-a", "job-1-only", "global-b"}
	if len(got) != len(want) {
		t.Fatalf("expected %d targets, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}

	if len(r.List()) != 5 {
		t.Errorf("List should include disabled targets, got %d", len(r.List()))
	}
}

func TestRegistry_ReplaceKeepsPosition(t *testing.T) {
	r := NewDefaultRegistry()
	if err := r.Register(models.SLATarget{ID: DefaultSuccessRateTargetID, MinSuccessRate: 80, Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	all := r.List()
	if len(all) != 2 {
		t.Fatalf("replace should not add a target, got %d", len(all))
	}
	if all[0].ID != DefaultSuccessRateTargetID || all[0].MinSuccessRate != 80 {
		t.Errorf("expected replaced target first with rate 80, got %+v", all[0])
	}
}

func TestRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	r := NewDefaultRegistry()
	r.Unregister("does-not-exist")
	if len(r.List()) != 2 {
		t.Errorf("expected registry unchanged")
	}

	r.Unregister(DefaultMaxAgeTargetID)
	if _, ok := r.Get(DefaultMaxAgeTargetID); ok {
		t.Error("expected target removed")
	}
	if len(r.List()) != 1 {
		t.Errorf("expected 1 target left, got %d", len(r.List()))
	}
}

func TestRegistry_GeneratesID(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(models.SLATarget{Name: "unnamed", MinSuccessRate: 50, Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	all := r.List()
	if len(all) != 1 || all[0].ID == "" {
		t.Errorf("expected generated ID, got %+v", all)
	}
}

func TestRegistry_Validation(t *testing.T) {
	r := NewRegistry()
	invalid := []models.SLATarget{
		{ID: "neg", MinSuccessRate: -1},
		{ID: "over", MinSuccessRate: 101},
		{ID: "dur", MaxDurationSeconds: intPtr(0)},
		{ID: "age", MaxAgeHours: floatPtr(-2)},
	}
	for _, target := range invalid {
		if err := r.Register(target); err == nil {
			t.Errorf("expected error for target %s", target.ID)
		}
	}
	if len(r.List()) != 0 {
		t.Error("invalid targets must not be registered")
	}
}

func TestRegistry_ReturnedTargetsAreCopies(t *testing.T) {
	r := NewDefaultRegistry()
	got, _ := r.Get(DefaultMaxAgeTargetID)
	*got.MaxAgeHours = 1

	again, _ := r.Get(DefaultMaxAgeTargetID)
	if *again.MaxAgeHours != 36 {
		t.Errorf("registry state leaked through returned value: %v", *again.MaxAgeHours)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewDefaultRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t-%d", i%5)
			_ = r.Register(models.SLATarget{ID: id, MinSuccessRate: 50, Enabled: true})
			if i%3 == 0 {
				r.Unregister(id)
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = r.ListActive("job-1")
		}()
	}
	wg.Wait()
}

// --- Monitor ---

func TestComputeMetrics_Empty(t *testing.T) {
	m := NewMonitor(NewDefaultRegistry())
	metrics := m.ComputeMetrics(testJob(), nil, now)

	if metrics.SuccessRate != 0.0 || math.IsNaN(metrics.SuccessRate) {
		t.Errorf("expected success rate 0.0, got %v", metrics.SuccessRate)
	}
	if metrics.AverageDurationSeconds != nil || metrics.MaxDurationSeconds != nil {
		t.Error("expected nil durations")
	}
	if metrics.LastExecutionDate != nil {
		t.Error("expected nil last execution")
	}
	if metrics.TotalExecutions != 0 {
		t.Errorf("expected 0 executions, got %d", metrics.TotalExecutions)
	}
	// The 95% target fires on an empty window; the age target needs a last run.
	if len(metrics.Violations) != 1 {
		t.Errorf("expected only the success-rate violation, got %v", metrics.Violations)
	}
}

func TestComputeMetrics_NinetyPercent(t *testing.T) {
	execs := executions(9, models.ExecutionSuccess, intPtr(100), now.Add(-time.Hour))
	execs = append(execs, models.Execution{ID: "f", JobID: "job-1", ExecutedAt: now.Add(-20 * time.Hour), Result: models.ExecutionFailed})

	m := NewMonitor(successRateRegistry(t, 95.0))
	metrics := m.ComputeMetrics(testJob(), execs, now)

	if metrics.SuccessRate != 90.0 {
		t.Errorf("expected success rate 90.0, got %v", metrics.SuccessRate)
	}
	if metrics.AverageDurationSeconds == nil || *metrics.AverageDurationSeconds != 100 {
		t.Errorf("expected average duration 100, got %v", metrics.AverageDurationSeconds)
	}
	if metrics.MaxDurationSeconds == nil || *metrics.MaxDurationSeconds != 100 {
		t.Errorf("expected max duration 100, got %v", metrics.MaxDurationSeconds)
	}
	if metrics.TotalExecutions != 10 || metrics.SuccessCount != 9 || metrics.FailedCount != 1 {
		t.Errorf("unexpected counts: %+v", metrics)
	}
	if len(metrics.Violations) != 1 || metrics.Violations[0] != "Success rate 90.0% below target 95.0%" {
		t.Errorf("unexpected violations: %v", metrics.Violations)
	}
	if metrics.IsCompliant {
		t.Error("expected non-compliant")
	}
	if metrics.LastExecutionDate == nil || !metrics.LastExecutionDate.Equal(now.Add(-time.Hour)) {
		t.Errorf("unexpected last execution: %v", metrics.LastExecutionDate)
	}
}

func TestComputeMetrics_AverageRounds(t *testing.T) {
	execs := []models.Execution{
		{ID: "a", Result: models.ExecutionSuccess, ExecutedAt: now, DurationSeconds: intPtr(10)},
		{ID: "b", Result: models.ExecutionSuccess, ExecutedAt: now, DurationSeconds: intPtr(11)},
		{ID: "c", Result: models.ExecutionWarning, ExecutedAt: now, DurationSeconds: intPtr(11)},
	}
	metrics := NewMonitor(NewRegistry()).ComputeMetrics(testJob(), execs, now)
	if *metrics.AverageDurationSeconds != 11 {
		t.Errorf("expected rounded average 11, got %d", *metrics.AverageDurationSeconds)
	}
	if metrics.WarningCount != 1 {
		t.Errorf("expected 1 warning execution, got %d", metrics.WarningCount)
	}
	if !metrics.IsCompliant {
		t.Errorf("expected compliant with no targets, got %v", metrics.Violations)
	}
}

func TestComputeMetrics_MaxAgeBoundary(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(models.SLATarget{ID: "age", MaxAgeHours: floatPtr(36), Enabled: true})
	m := NewMonitor(r)

	atLimit := executions(1, models.ExecutionSuccess, nil, now.Add(-36*time.Hour))
	if v := m.ComputeMetrics(testJob(), atLimit, now).Violations; len(v) != 0 {
		t.Errorf("execution exactly at max age should pass, got %v", v)
	}

	past := executions(1, models.ExecutionSuccess, nil, now.Add(-40*time.Hour))
	v := m.ComputeMetrics(testJob(), past, now).Violations
	if len(v) != 1 || v[0] != "Last execution 40.0 hours ago exceeds max age 36.0 hours" {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestComputeMetrics_IndependentChecks(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(models.SLATarget{
		ID:                 "all",
		MinSuccessRate:     95,
		MaxDurationSeconds: intPtr(3600),
		MaxAgeHours:        floatPtr(36),
		Enabled:            true,
	})
	m := NewMonitor(r)

	base := executions(10, models.ExecutionSuccess, intPtr(600), now.Add(-time.Hour))
	if v := m.ComputeMetrics(testJob(), base, now).Violations; len(v) != 0 {
		t.Fatalf("expected compliant baseline, got %v", v)
	}

	slow := append([]models.Execution{}, base...)
	slow[0].DurationSeconds = intPtr(5400)
	v := m.ComputeMetrics(testJob(), slow, now).Violations
	if len(v) != 1 || v[0] != "Max duration 5400s exceeds target 3600s" {
		t.Fatalf("expected one duration violation, got %v", v)
	}

	slowAndFailing := append([]models.Execution{}, slow...)
	slowAndFailing[1].Result = models.ExecutionFailed
	if v := m.ComputeMetrics(testJob(), slowAndFailing, now).Violations; len(v) != 2 {
		t.Fatalf("expected two violations, got %v", v)
	}

	var stale []models.Execution
	for _, e := range slowAndFailing {
		e.ExecutedAt = e.ExecutedAt.Add(-48 * time.Hour)
		stale = append(stale, e)
	}
	if v := m.ComputeMetrics(testJob(), stale, now).Violations; len(v) != 3 {
		t.Fatalf("expected three violations, got %v", v)
	}
}

func TestComputeMetrics_JobScopedTarget(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(models.SLATarget{ID: "other", JobID: strPtr("job-2"), MinSuccessRate: 99, Enabled: true})
	execs := executions(1, models.ExecutionFailed, nil, now)

	metrics := NewMonitor(r).ComputeMetrics(testJob(), execs, now)
	if !metrics.IsCompliant {
		t.Errorf("target for another job must not apply, got %v", metrics.Violations)
	}
}

func TestComputeMetrics_UnrecognizedResultSkipped(t *testing.T) {
	execs := executions(2, models.ExecutionSuccess, nil, now)
	execs = append(execs, models.Execution{ID: "bad", ExecutedAt: now, Result: "exploded"})

	metrics := NewMonitor(NewRegistry()).ComputeMetrics(testJob(), execs, now)
	if metrics.TotalExecutions != 2 {
		t.Errorf("expected malformed execution skipped, total=%d", metrics.TotalExecutions)
	}
	if metrics.SuccessRate != 100 {
		t.Errorf("expected 100%% success, got %v", metrics.SuccessRate)
	}
	if len(metrics.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", metrics.Warnings)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		part, total int
		want        float64
	}{
		{0, 0, 0},
		{1, 4, 25},
		{3, 3, 100},
	}
	for _, tt := range tests {
		if got := Percent(tt.part, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %v, want %v", tt.part, tt.total, got, tt.want)
		}
	}
}

// --- Targets file ---

func TestLoadTargetsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.yaml")
	content := `targets:
  - id: nightly-db
    name: Nightly database duration
    job_id: job-1
    max_duration_seconds: 3600
    enabled: true
  - id: strict-rate
    name: Strict rate
    min_success_rate: 99.5
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewDefaultRegistry()
	n, err := LoadTargetsFile(r, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 targets loaded, got %d", n)
	}

	db, ok := r.Get("nightly-db")
	if !ok {
		t.Fatal("expected nightly-db registered")
	}
	if db.JobID == nil || *db.JobID != "job-1" || db.MaxDurationSeconds == nil || *db.MaxDurationSeconds != 3600 {
		t.Errorf("unexpected target: %+v", db)
	}

	if len(r.ListActive("job-1")) != 3 {
		t.Errorf("expected defaults plus job-scoped target active for job-1")
	}
}

func TestLoadTargetsFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("targets:\n  - id: x\n    min_success_rate: 150\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadTargetsFile(NewRegistry(), path); err == nil {
		t.Error("expected validation error")
	}
	_, err := LoadTargetsFile(NewRegistry(), filepath.Join(dir, "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !os.IsNotExist(errors.Cause(err)) {
		t.Errorf("expected the cause to be a missing file, got %v", errors.Cause(err))
	}
	if !strings.Contains(err.Error(), "sla: read targets file") {
		t.Errorf("expected context in error, got %q", err.Error())
	}
}
