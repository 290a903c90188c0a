// Package compliance implements the 3-2-1-1-0 backup compliance rule.
//
// A job is compliant when it keeps at least three copies on at least two
// distinct media types, with at least one offsite copy, at least one offline
// copy, and no copy in a failed state. Stale offline media produce warnings
// rather than violations. Evaluation is a pure function of the job, its
// copies and the supplied evaluation time.
package compliance

import (
	"fmt"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

const (
	// MinCopies is the minimum number of copies a job must keep.
	MinCopies = 3

	// MinMediaTypes is the minimum number of distinct media types.
	MinMediaTypes = 2

	// DefaultOfflineWarningDays is how old an offline copy may get before
	// it is reported as stale.
	DefaultOfflineWarningDays = 7
)

// NotFoundViolation is the single violation carried by the unknown result.
const NotFoundViolation = "Job not found or inactive"

// Checker evaluates jobs against the 3-2-1-1-0 rule.
// A Checker holds no mutable state and is safe for concurrent use.
type Checker struct {
	offlineWarningDays int
}

// NewChecker creates a Checker. A non-positive threshold falls back to
// DefaultOfflineWarningDays.
func NewChecker(offlineWarningDays int) *Checker {
	if offlineWarningDays <= 0 {
		offlineWarningDays = DefaultOfflineWarningDays
	}
	return &Checker{offlineWarningDays: offlineWarningDays}
}

// OfflineWarningDays returns the configured offline staleness threshold.
func (c *Checker) OfflineWarningDays() int {
	return c.offlineWarningDays
}

// Evaluate checks the copy set of job at time now. A nil or inactive job
// yields the unknown result.
func (c *Checker) Evaluate(job *models.Job, copies []models.BackupCopy, now time.Time) *models.ComplianceResult {
	if job == nil || !job.Active {
		jobID := ""
		if job != nil {
			jobID = job.ID
		}
		return NotFoundResult(jobID, now)
	}

	result := &models.ComplianceResult{
		JobID:       job.ID,
		JobName:     job.Name,
		CopiesCount: len(copies),
		Violations:  make([]string, 0),
		Warnings:    make([]string, 0),
		Copies:      make([]models.CopySummary, 0, len(copies)),
		EvaluatedAt: now,
	}

	mediaTypes := make(map[models.MediaType]struct{})
	for _, cp := range copies {
		result.Copies = append(result.Copies, summarize(cp))

		if cp.Role == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Copy %s has no role recorded.", copyLabel(cp)))
		}
		if cp.MediaType == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Copy %s has no media type recorded.", copyLabel(cp)))
		} else {
			mediaTypes[cp.MediaType] = struct{}{}
		}

		if cp.IsOffsite() {
			result.HasOffsite = true
		}
		if cp.IsOffline() {
			result.HasOffline = true
		}
		if cp.Status == models.CopyStatusFailed {
			result.HasErrors = true
		}
	}
	result.MediaTypesCount = len(mediaTypes)

	if result.CopiesCount < MinCopies {
		result.Violations = append(result.Violations,
			fmt.Sprintf("Only %d copy/copies found. Minimum %d required.", result.CopiesCount, MinCopies))
	}
	if result.MediaTypesCount < MinMediaTypes {
		result.Violations = append(result.Violations,
			fmt.Sprintf("Only %d media type(s) found. Minimum %d required.", result.MediaTypesCount, MinMediaTypes))
	}
	if !result.HasOffsite {
		result.Violations = append(result.Violations, "No offsite copy found.")
	}
	if !result.HasOffline {
		result.Violations = append(result.Violations, "No offline copy found.")
	}
	if result.HasErrors {
		result.Violations = append(result.Violations, "Some copies have failed status.")
	}

	result.Warnings = append(result.Warnings, c.staleOfflineWarnings(copies, now)...)

	result.Status = deriveStatus(result.Violations, result.Warnings)
	result.Compliant = result.Status == models.ComplianceStatusCompliant
	return result
}

// staleOfflineWarnings reports offline copies whose last backup is older
// than the configured threshold.
func (c *Checker) staleOfflineWarnings(copies []models.BackupCopy, now time.Time) []string {
	threshold := time.Duration(c.offlineWarningDays) * 24 * time.Hour

	var warnings []string
	for _, cp := range copies {
		if !cp.IsOffline() || cp.LastBackupDate == nil {
			continue
		}
		age := now.Sub(*cp.LastBackupDate)
		if age <= threshold {
			continue
		}
		// Partial days round up so the reported age always exceeds the threshold.
		days := int((age + 24*time.Hour - 1) / (24 * time.Hour))
		warnings = append(warnings, fmt.Sprintf(
			"Offline copy at %s is %d days old (warning threshold: %d days)",
			copyLabel(cp), days, c.offlineWarningDays))
	}
	return warnings
}

// NotFoundResult builds the result returned for a missing or inactive job.
// It is told apart from a real verdict by its unknown status.
func NotFoundResult(jobID string, now time.Time) *models.ComplianceResult {
	return &models.ComplianceResult{
		JobID:       jobID,
		Compliant:   false,
		Status:      models.ComplianceStatusUnknown,
		Violations:  []string{NotFoundViolation},
		Warnings:    make([]string, 0),
		Copies:      make([]models.CopySummary, 0),
		EvaluatedAt: now,
	}
}

// ErrorResult builds the result returned when evaluation failed internally.
// The fault text is carried as a synthetic violation.
func ErrorResult(job *models.Job, fault error, now time.Time) *models.ComplianceResult {
	result := &models.ComplianceResult{
		Compliant:   false,
		Status:      models.ComplianceStatusError,
		Violations:  []string{fmt.Sprintf("Compliance check failed: %v", fault)},
		Warnings:    make([]string, 0),
		Copies:      make([]models.CopySummary, 0),
		EvaluatedAt: now,
	}
	if job != nil {
		result.JobID = job.ID
		result.JobName = job.Name
	}
	return result
}

func deriveStatus(violations, warnings []string) models.ComplianceStatus {
	switch {
	case len(violations) > 0:
		return models.ComplianceStatusNonCompliant
	case len(warnings) > 0:
		return models.ComplianceStatusWarning
	default:
		return models.ComplianceStatusCompliant
	}
}

func summarize(cp models.BackupCopy) models.CopySummary {
	return models.CopySummary{
		ID:             cp.ID,
		Role:           cp.Role,
		MediaType:      cp.MediaType,
		StoragePath:    cp.StoragePath,
		Status:         cp.Status,
		LastBackupDate: cp.LastBackupDate,
	}
}

// copyLabel names a copy in messages: its storage path, else its ID.
func copyLabel(cp models.BackupCopy) string {
	if cp.StoragePath != "" {
		return cp.StoragePath
	}
	if cp.ID != "" {
		return cp.ID
	}
	return "<unnamed>"
}
