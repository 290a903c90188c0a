package sla

import (
	"fmt"
	"math"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

// Monitor computes SLA metrics for a job from its execution history and
// checks them against the targets supplied by a TargetLister.
type Monitor struct {
	targets TargetLister
}

// NewMonitor creates a Monitor reading targets from the given lister.
func NewMonitor(targets TargetLister) *Monitor {
	return &Monitor{targets: targets}
}

// ComputeMetrics aggregates executions, which the caller has already
// limited to the evaluation window, and checks every active target for the
// job. All checks run; none short-circuits another.
func (m *Monitor) ComputeMetrics(job *models.Job, executions []models.Execution, now time.Time) *models.SLAMetrics {
	metrics := &models.SLAMetrics{
		Violations:   make([]string, 0),
		CalculatedAt: now,
	}
	if job != nil {
		metrics.JobID = job.ID
		metrics.JobName = job.Name
	}

	var (
		durationSum   int64
		durationCount int
		maxDuration   int
		lastExecution *time.Time
	)

	for _, e := range executions {
		if !e.Result.Valid() {
			metrics.Warnings = append(metrics.Warnings,
				fmt.Sprintf("Execution %s has unrecognized result %q and was skipped.", e.ID, e.Result))
			continue
		}

		metrics.TotalExecutions++
		switch e.Result {
		case models.ExecutionSuccess:
			metrics.SuccessCount++
		case models.ExecutionFailed:
			metrics.FailedCount++
		case models.ExecutionWarning:
			metrics.WarningCount++
		}

		if e.DurationSeconds != nil {
			d := *e.DurationSeconds
			durationSum += int64(d)
			if durationCount == 0 || d > maxDuration {
				maxDuration = d
			}
			durationCount++
		}

		if lastExecution == nil || e.ExecutedAt.After(*lastExecution) {
			t := e.ExecutedAt
			lastExecution = &t
		}
	}

	metrics.SuccessRate = Percent(metrics.SuccessCount, metrics.TotalExecutions)
	if durationCount > 0 {
		avg := int(math.Round(float64(durationSum) / float64(durationCount)))
		metrics.AverageDurationSeconds = &avg
		maxD := maxDuration
		metrics.MaxDurationSeconds = &maxD
	}
	metrics.LastExecutionDate = lastExecution

	jobID := metrics.JobID
	if m.targets != nil {
		for _, target := range m.targets.ListActive(jobID) {
			metrics.Violations = append(metrics.Violations, checkTarget(target, metrics, now)...)
		}
	}

	metrics.IsCompliant = len(metrics.Violations) == 0
	return metrics
}

// checkTarget runs each threshold the target defines independently.
func checkTarget(target models.SLATarget, metrics *models.SLAMetrics, now time.Time) []string {
	var violations []string

	if target.MinSuccessRate > 0 && metrics.SuccessRate < target.MinSuccessRate {
		violations = append(violations, fmt.Sprintf(
			"Success rate %.1f%% below target %.1f%%", metrics.SuccessRate, target.MinSuccessRate))
	}

	if target.MaxDurationSeconds != nil && metrics.MaxDurationSeconds != nil &&
		*metrics.MaxDurationSeconds > *target.MaxDurationSeconds {
		violations = append(violations, fmt.Sprintf(
			"Max duration %ds exceeds target %ds", *metrics.MaxDurationSeconds, *target.MaxDurationSeconds))
	}

	if target.MaxAgeHours != nil && metrics.LastExecutionDate != nil {
		ageHours := now.Sub(*metrics.LastExecutionDate).Hours()
		if ageHours > *target.MaxAgeHours {
			violations = append(violations, fmt.Sprintf(
				"Last execution %.1f hours ago exceeds max age %.1f hours", ageHours, *target.MaxAgeHours))
		}
	}

	return violations
}

// Percent returns part/total*100, or 0 when total is zero.
func Percent(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100
}
