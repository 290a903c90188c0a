// Package service orchestrates compliance and SLA evaluation.
//
// The Engine fetches a job's copies and executions from the data source,
// runs the pure evaluators over them, then stores the result as an audit row,
// caches the latest compliance verdict and raises alerts for jobs that need
// attention. Persistence, cache and alert failures are logged and never fail
// the evaluation itself.
package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/alert"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/compliance"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/report"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/sla"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/store"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

// DefaultWindowDays is the SLA and report window used when none is given.
const DefaultWindowDays = 30

// MaxWindowDays is the widest SLA and report window, ten years.
const MaxWindowDays = 3650

// DefaultCacheTTL is how long a cached compliance result stays valid.
const DefaultCacheTTL = 24 * time.Hour

// errDataUnavailable is reported in place of raw data-source errors.
var errDataUnavailable = errors.New("unable to load backup data")

// ResultCache stores the latest compliance result per job.
type ResultCache interface {
	CacheComplianceResult(ctx context.Context, result *models.ComplianceResult, ttl time.Duration) error
	GetComplianceResult(ctx context.Context, jobID string) (*models.ComplianceResult, error)
}

// Notifier receives alerts for jobs that need attention.
type Notifier interface {
	Notify(ctx context.Context, a alert.Alert) (bool, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache caches compliance results.
func WithCache(c ResultCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithNotifier raises alerts through n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.alerts = n }
}

// WithClock replaces time.Now as the source of the evaluation time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWindowDays sets the default SLA and report window.
func WithWindowDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.windowDays = min(days, MaxWindowDays)
		}
	}
}

// WithCacheTTL sets the lifetime of cached compliance results.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// Engine evaluates jobs against the 3-2-1-1-0 rule and their SLA targets.
type Engine struct {
	source  store.DataSource
	sink    store.ResultSink
	monitor *sla.Monitor
	cache   ResultCache
	alerts  Notifier
	logger  zerolog.Logger

	now        func() time.Time
	evaluate   func(*models.Job, []models.BackupCopy, time.Time) *models.ComplianceResult
	windowDays int
	cacheTTL   time.Duration
}

// NewEngine creates an Engine. sink may be nil to skip audit rows.
func NewEngine(source store.DataSource, sink store.ResultSink, checker *compliance.Checker, monitor *sla.Monitor, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		source:     source,
		sink:       sink,
		monitor:    monitor,
		logger:     logger.With().Str("component", "engine").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		evaluate:   checker.Evaluate,
		windowDays: DefaultWindowDays,
		cacheTTL:   DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WindowDays returns the default window in days.
func (e *Engine) WindowDays() int {
	return e.windowDays
}

// CheckJob evaluates one job. A missing or inactive job yields the unknown
// result; an internal fault yields the error result. Neither is returned as
// a Go error.
func (e *Engine) CheckJob(ctx context.Context, jobID string) *models.ComplianceResult {
	now := e.now()

	job, err := e.source.GetJob(ctx, jobID)
	if err != nil {
		if store.IsNotFound(err) {
			return compliance.NotFoundResult(jobID, now)
		}
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to load job")
		return compliance.ErrorResult(&models.Job{ID: jobID}, errDataUnavailable, now)
	}
	if !job.Active {
		return compliance.NotFoundResult(jobID, now)
	}

	return e.checkLoaded(ctx, job, now)
}

// CheckAll evaluates every active job.
func (e *Engine) CheckAll(ctx context.Context) ([]*models.ComplianceResult, error) {
	jobs, err := e.source.ListActiveJobs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "service: list active jobs")
	}

	now := e.now()
	results := make([]*models.ComplianceResult, 0, len(jobs))
	for _, job := range jobs {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, e.checkLoaded(ctx, job, now))
	}
	return results, nil
}

func (e *Engine) checkLoaded(ctx context.Context, job *models.Job, now time.Time) *models.ComplianceResult {
	copies, err := e.source.ListCopies(ctx, job.ID)
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to load copies")
		result := compliance.ErrorResult(job, errDataUnavailable, now)
		e.publish(ctx, result)
		return result
	}

	result := e.safeEvaluate(job, copies, now)

	e.logger.Debug().
		Str("job_id", job.ID).
		Str("status", string(result.Status)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Msg("compliance evaluated")

	e.persistCompliance(ctx, result)
	e.cacheResult(ctx, result)
	e.publish(ctx, result)
	return result
}

// safeEvaluate converts a panic inside the evaluator into the error result.
func (e *Engine) safeEvaluate(job *models.Job, copies []models.BackupCopy, now time.Time) (result *models.ComplianceResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("job_id", job.ID).Interface("panic", r).Msg("compliance evaluation panicked")
			result = compliance.ErrorResult(job, errors.Errorf("%v", r), now)
		}
	}()
	return e.evaluate(job, copies, now)
}

func (e *Engine) persistCompliance(ctx context.Context, result *models.ComplianceResult) {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveComplianceResult(ctx, result); err != nil {
		e.logger.Warn().Err(err).Str("job_id", result.JobID).Msg("failed to persist compliance result")
	}
}

func (e *Engine) cacheResult(ctx context.Context, result *models.ComplianceResult) {
	if e.cache == nil {
		return
	}
	if err := e.cache.CacheComplianceResult(ctx, result, e.cacheTTL); err != nil {
		e.logger.Warn().Err(err).Str("job_id", result.JobID).Msg("failed to cache compliance result")
	}
}

func (e *Engine) publish(ctx context.Context, result *models.ComplianceResult) {
	if a, ok := alert.FromCompliance(result); ok {
		e.notify(ctx, a)
	}
}

func (e *Engine) notify(ctx context.Context, a alert.Alert) {
	if e.alerts == nil {
		return
	}
	if _, err := e.alerts.Notify(ctx, a); err != nil {
		e.logger.Warn().Err(err).Str("job_id", a.JobID).Str("kind", string(a.Kind)).Msg("failed to send alert")
	}
}

// CachedResult returns the cached compliance result for a job. It reports
// false when no cache is configured or nothing is cached.
func (e *Engine) CachedResult(ctx context.Context, jobID string) (*models.ComplianceResult, bool, error) {
	if e.cache == nil {
		return nil, false, nil
	}
	result, err := e.cache.GetComplianceResult(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return result, result != nil, nil
}

// JobMetrics computes SLA metrics for a job over the last days days. A
// non-positive days uses the default window. A missing job is reported as
// store.ErrNotFound.
func (e *Engine) JobMetrics(ctx context.Context, jobID string, days int) (*models.SLAMetrics, error) {
	job, err := e.source.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return e.metricsFor(ctx, job, e.window(days), e.now())
}

// AllMetrics computes SLA metrics for every active job.
func (e *Engine) AllMetrics(ctx context.Context, days int) ([]*models.SLAMetrics, error) {
	jobs, err := e.source.ListActiveJobs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "service: list active jobs")
	}

	days = e.window(days)
	now := e.now()
	all := make([]*models.SLAMetrics, 0, len(jobs))
	for _, job := range jobs {
		m, err := e.metricsFor(ctx, job, days, now)
		if err != nil {
			return all, err
		}
		all = append(all, m)
	}
	return all, nil
}

func (e *Engine) metricsFor(ctx context.Context, job *models.Job, days int, now time.Time) (metrics *models.SLAMetrics, err error) {
	executions, err := e.source.ListExecutions(ctx, job.ID, windowStart(now, days), now)
	if err != nil {
		return nil, errors.Wrapf(err, "service: list executions for job %s", job.ID)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("job_id", job.ID).Interface("panic", r).Msg("sla computation panicked")
			metrics, err = nil, errors.Errorf("service: sla computation failed for job %s: %v", job.ID, r)
		}
	}()

	metrics = e.monitor.ComputeMetrics(job, executions, now)
	metrics.WindowDays = days

	if e.sink != nil {
		if err := e.sink.SaveSLAMetrics(ctx, metrics); err != nil {
			e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist sla metrics")
		}
	}
	if a, ok := alert.FromSLA(metrics); ok {
		e.notify(ctx, a)
	}
	return metrics, nil
}

// Trend buckets a job's executions over windowDays into intervals of
// intervalDays. A missing job is reported as store.ErrNotFound and an
// unusable range as report.ErrInvalidRange.
func (e *Engine) Trend(ctx context.Context, jobID string, windowDays, intervalDays int) ([]models.TrendPoint, error) {
	if err := report.CheckTrendRange(windowDays, intervalDays); err != nil {
		return nil, err
	}
	if _, err := e.source.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	now := e.now()
	executions, err := e.source.ListExecutions(ctx, jobID, windowStart(now, windowDays), now)
	if err != nil {
		return nil, errors.Wrapf(err, "service: list executions for job %s", jobID)
	}
	return report.SummarizeTrend(executions, now, windowDays, intervalDays)
}

// GlobalStats aggregates executions of every job over the last days days.
func (e *Engine) GlobalStats(ctx context.Context, days int) (*models.GlobalStats, error) {
	days = e.window(days)
	now := e.now()

	jobs, err := e.source.ListActiveJobs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "service: list active jobs")
	}
	executions, err := e.source.ListExecutions(ctx, "", windowStart(now, days), now)
	if err != nil {
		return nil, errors.Wrap(err, "service: list executions")
	}

	stats := report.SummarizeGlobal(executions, len(jobs), days)
	return &stats, nil
}

// Sweep evaluates compliance and SLA metrics for every active job and logs a
// summary. It is run by the scheduler and the check command.
func (e *Engine) Sweep(ctx context.Context) (*SweepSummary, error) {
	start := time.Now()

	results, err := e.CheckAll(ctx)
	if err != nil {
		return nil, err
	}
	metrics, err := e.AllMetrics(ctx, e.windowDays)
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{Jobs: len(results)}
	for _, r := range results {
		switch r.Status {
		case models.ComplianceStatusCompliant:
			summary.Compliant++
		case models.ComplianceStatusWarning:
			summary.Warning++
		case models.ComplianceStatusNonCompliant:
			summary.NonCompliant++
		default:
			summary.Errored++
		}
	}
	for _, m := range metrics {
		if !m.IsCompliant {
			summary.SLAViolations++
		}
	}

	e.logger.Info().
		Int("jobs", summary.Jobs).
		Int("compliant", summary.Compliant).
		Int("warning", summary.Warning).
		Int("non_compliant", summary.NonCompliant).
		Int("errored", summary.Errored).
		Int("sla_violations", summary.SLAViolations).
		Dur("elapsed", time.Since(start)).
		Msg("compliance sweep complete")
	return summary, nil
}

// SweepSummary counts the outcomes of a sweep.
type SweepSummary struct {
	Jobs          int `json:"jobs"`
	Compliant     int `json:"compliant"`
	Warning       int `json:"warning"`
	NonCompliant  int `json:"non_compliant"`
	Errored       int `json:"errored"`
	SLAViolations int `json:"sla_violations"`
}

func (e *Engine) window(days int) int {
	if days <= 0 {
		return e.windowDays
	}
	if days > MaxWindowDays {
		return MaxWindowDays
	}
	return days
}

func windowStart(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}
