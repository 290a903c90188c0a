// Package report builds trend series and global statistics from execution
// history. Numeric fields are left unformatted so that renderers control
// presentation.
package report

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/sla"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

const bytesPerGiB = 1024 * 1024 * 1024

// MaxTrendPoints bounds the number of buckets a single trend may produce.
const MaxTrendPoints = 366

// ErrInvalidRange is returned for a trend window or interval that cannot
// be summarized.
var ErrInvalidRange = errors.New("report: invalid range")

// CheckTrendRange validates a trend window and interval.
func CheckTrendRange(windowDays, intervalDays int) error {
	if windowDays <= 0 {
		return errors.Wrapf(ErrInvalidRange, "window_days must be positive, got %d", windowDays)
	}
	if intervalDays <= 0 {
		return errors.Wrapf(ErrInvalidRange, "interval_days must be positive, got %d", intervalDays)
	}
	if buckets := windowDays / intervalDays; buckets > MaxTrendPoints {
		return errors.Wrapf(ErrInvalidRange, "%d intervals requested, at most %d allowed", buckets, MaxTrendPoints)
	}
	return nil
}

// SummarizeTrend buckets executions into floor(windowDays/intervalDays)
// consecutive intervals ending at now. Each bucket covers (start, end].
// Buckets are computed newest first and returned oldest first.
func SummarizeTrend(executions []models.Execution, now time.Time, windowDays, intervalDays int) ([]models.TrendPoint, error) {
	if err := CheckTrendRange(windowDays, intervalDays); err != nil {
		return nil, err
	}

	buckets := windowDays / intervalDays

	points := make([]models.TrendPoint, 0, buckets)
	for i := 0; i < buckets; i++ {
		end := now.AddDate(0, 0, -i*intervalDays)
		start := end.AddDate(0, 0, -intervalDays)

		point := models.TrendPoint{StartDate: start, EndDate: end}
		for _, e := range executions {
			if !e.ExecutedAt.After(start) || e.ExecutedAt.After(end) {
				continue
			}
			point.TotalExecutions++
			if e.Result == models.ExecutionSuccess {
				point.SuccessfulExecutions++
			}
		}
		point.SuccessRate = sla.Percent(point.SuccessfulExecutions, point.TotalExecutions)
		points = append(points, point)
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// SummarizeGlobal aggregates executions across all jobs. Null durations and
// sizes are ignored; the average duration is 0 when no duration is known.
func SummarizeGlobal(executions []models.Execution, activeJobs, windowDays int) models.GlobalStats {
	stats := models.GlobalStats{
		WindowDays: windowDays,
		ActiveJobs: activeJobs,
	}

	var (
		durationSum   int64
		durationCount int
		totalBytes    int64
	)

	for _, e := range executions {
		stats.TotalExecutions++
		switch e.Result {
		case models.ExecutionSuccess:
			stats.SuccessCount++
		case models.ExecutionFailed:
			stats.FailedCount++
		case models.ExecutionWarning:
			stats.WarningCount++
		}
		if e.DurationSeconds != nil {
			durationSum += int64(*e.DurationSeconds)
			durationCount++
		}
		if e.SizeBytes != nil {
			totalBytes += *e.SizeBytes
		}
	}

	stats.SuccessRate = sla.Percent(stats.SuccessCount, stats.TotalExecutions)
	if durationCount > 0 {
		stats.AverageDurationSeconds = int(math.Round(float64(durationSum) / float64(durationCount)))
	}
	stats.TotalSizeGB = math.Round(float64(totalBytes)/bytesPerGiB*100) / 100
	return stats
}
