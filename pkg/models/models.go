// Package models defines the core data structures used across Custodian.
//
// Custodian is the backup compliance engine for Open Cloud Ops. It tracks
// backup jobs, the copies each job keeps across media types, and the
// execution history reported by external backup scripts, and evaluates them
// against the 3-2-1-1-0 rule and configurable SLA targets.
package models

import "time"

// CopyRole describes the purpose of a stored backup copy.
type CopyRole string

const (
	CopyRolePrimary   CopyRole = "primary"
	CopyRoleSecondary CopyRole = "secondary"
	CopyRoleOffsite   CopyRole = "offsite"
	CopyRoleOffline   CopyRole = "offline"
	// CopyRoleCloud is accepted as an offsite role.
	CopyRoleCloud CopyRole = "cloud"
)

// Valid reports whether r is one of the known copy roles.
func (r CopyRole) Valid() bool {
	switch r {
	case CopyRolePrimary, CopyRoleSecondary, CopyRoleOffsite, CopyRoleOffline, CopyRoleCloud:
		return true
	}
	return false
}

// MediaType is the storage medium a copy lives on.
type MediaType string

const (
	MediaTypeDisk        MediaType = "disk"
	MediaTypeTape        MediaType = "tape"
	MediaTypeCloud       MediaType = "cloud"
	MediaTypeExternalHDD MediaType = "external_hdd"
)

// Valid reports whether m is one of the known media types.
func (m MediaType) Valid() bool {
	switch m {
	case MediaTypeDisk, MediaTypeTape, MediaTypeCloud, MediaTypeExternalHDD:
		return true
	}
	return false
}

// CopyStatus is the outcome of the most recent backup written to a copy.
type CopyStatus string

const (
	CopyStatusSuccess CopyStatus = "success"
	CopyStatusFailed  CopyStatus = "failed"
	CopyStatusWarning CopyStatus = "warning"
	CopyStatusUnknown CopyStatus = "unknown"
)

// Valid reports whether s is one of the known copy statuses.
func (s CopyStatus) Valid() bool {
	switch s {
	case CopyStatusSuccess, CopyStatusFailed, CopyStatusWarning, CopyStatusUnknown:
		return true
	}
	return false
}

// ExecutionResult is the outcome of one recorded backup run.
type ExecutionResult string

const (
	ExecutionSuccess ExecutionResult = "success"
	ExecutionFailed  ExecutionResult = "failed"
	ExecutionWarning ExecutionResult = "warning"
)

// Valid reports whether r is one of the known execution results.
func (r ExecutionResult) Valid() bool {
	switch r {
	case ExecutionSuccess, ExecutionFailed, ExecutionWarning:
		return true
	}
	return false
}

// ComplianceStatus is the derived verdict of a compliance evaluation.
type ComplianceStatus string

const (
	ComplianceStatusCompliant    ComplianceStatus = "compliant"
	ComplianceStatusWarning      ComplianceStatus = "warning"
	ComplianceStatusNonCompliant ComplianceStatus = "non_compliant"
	// ComplianceStatusUnknown marks a job that does not exist or is inactive.
	ComplianceStatusUnknown ComplianceStatus = "unknown"
	// ComplianceStatusError marks an evaluation that failed internally.
	ComplianceStatusError ComplianceStatus = "error"
)

// Job is a configured backup job. Jobs are owned by the data store and are
// treated as immutable while they are being evaluated.
type Job struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Active        bool      `json:"active" db:"active"`
	RetentionDays int       `json:"retention_days" db:"retention_days"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// BackupCopy is one stored instance of a job's backup.
type BackupCopy struct {
	ID             string     `json:"id" db:"id"`
	JobID          string     `json:"job_id" db:"job_id"`
	Role           CopyRole   `json:"role" db:"role"`
	MediaType      MediaType  `json:"media_type" db:"media_type"`
	StoragePath    string     `json:"storage_path" db:"storage_path"`
	LastBackupDate *time.Time `json:"last_backup_date,omitempty" db:"last_backup_date"`
	LastBackupSize *int64     `json:"last_backup_size,omitempty" db:"last_backup_size"`
	Status         CopyStatus `json:"status" db:"status"`
}

// IsOffsite reports whether the copy is kept away from the primary site.
func (c BackupCopy) IsOffsite() bool {
	return c.Role == CopyRoleOffsite || c.Role == CopyRoleCloud
}

// IsOffline reports whether the copy is air-gapped. Tape always counts.
func (c BackupCopy) IsOffline() bool {
	return c.Role == CopyRoleOffline || c.MediaType == MediaTypeTape
}

// Execution is one recorded run of a backup job, as reported by the
// external backup scripts.
type Execution struct {
	ID              string          `json:"id" db:"id"`
	JobID           string          `json:"job_id" db:"job_id"`
	CopyID          string          `json:"copy_id,omitempty" db:"copy_id"`
	ExecutedAt      time.Time       `json:"executed_at" db:"executed_at"`
	Result          ExecutionResult `json:"result" db:"result"`
	DurationSeconds *int            `json:"duration_seconds,omitempty" db:"duration_seconds"`
	SizeBytes       *int64          `json:"size_bytes,omitempty" db:"size_bytes"`
	ErrorMessage    string          `json:"error_message,omitempty" db:"error_message"`
}

// SLATarget is a named threshold rule that executions are checked against.
// A nil JobID makes the target apply to every job.
type SLATarget struct {
	ID                 string   `json:"id" yaml:"id"`
	Name               string   `json:"name" yaml:"name"`
	JobID              *string  `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	MinSuccessRate     float64  `json:"min_success_rate" yaml:"min_success_rate"`
	MaxDurationSeconds *int     `json:"max_duration_seconds,omitempty" yaml:"max_duration_seconds,omitempty"`
	MaxAgeHours        *float64 `json:"max_age_hours,omitempty" yaml:"max_age_hours,omitempty"`
	Enabled            bool     `json:"enabled" yaml:"enabled"`
}

// AppliesTo reports whether the target is scoped to jobID or is global.
func (t SLATarget) AppliesTo(jobID string) bool {
	return t.JobID == nil || *t.JobID == jobID
}

// CopySummary is the flattened view of a copy recorded with a compliance result.
type CopySummary struct {
	ID             string     `json:"id"`
	Role           CopyRole   `json:"role"`
	MediaType      MediaType  `json:"media_type"`
	StoragePath    string     `json:"storage_path"`
	Status         CopyStatus `json:"status"`
	LastBackupDate *time.Time `json:"last_backup_date,omitempty"`
}

// ComplianceResult is the evaluator's verdict for one job at one point in time.
type ComplianceResult struct {
	JobID           string           `json:"job_id"`
	JobName         string           `json:"job_name"`
	Compliant       bool             `json:"compliant"`
	Status          ComplianceStatus `json:"status"`
	CopiesCount     int              `json:"copies_count"`
	MediaTypesCount int              `json:"media_types_count"`
	HasOffsite      bool             `json:"has_offsite"`
	HasOffline      bool             `json:"has_offline"`
	HasErrors       bool             `json:"has_errors"`
	Violations      []string         `json:"violations"`
	Warnings        []string         `json:"warnings"`
	Copies          []CopySummary    `json:"copies"`
	EvaluatedAt     time.Time        `json:"evaluated_at"`
}

// SLAMetrics aggregates a job's execution history over a window.
type SLAMetrics struct {
	JobID                  string     `json:"job_id"`
	JobName                string     `json:"job_name"`
	WindowDays             int        `json:"window_days"`
	SuccessRate            float64    `json:"success_rate"`
	AverageDurationSeconds *int       `json:"average_duration_seconds"`
	MaxDurationSeconds     *int       `json:"max_duration_seconds"`
	LastExecutionDate      *time.Time `json:"last_execution_date"`
	TotalExecutions        int        `json:"total_executions"`
	SuccessCount           int        `json:"success_count"`
	FailedCount            int        `json:"failed_count"`
	WarningCount           int        `json:"warning_count"`
	IsCompliant            bool       `json:"is_compliant"`
	Violations             []string   `json:"violations"`
	Warnings               []string   `json:"warnings,omitempty"`
	CalculatedAt           time.Time  `json:"calculated_at"`
}

// TrendPoint is one interval of a success-rate time series.
type TrendPoint struct {
	StartDate            time.Time `json:"start_date"`
	EndDate              time.Time `json:"end_date"`
	TotalExecutions      int       `json:"total_executions"`
	SuccessfulExecutions int       `json:"successful_executions"`
	SuccessRate          float64   `json:"success_rate"`
}

// GlobalStats summarizes executions across all jobs over a window.
type GlobalStats struct {
	WindowDays             int     `json:"window_days"`
	TotalExecutions        int     `json:"total_executions"`
	SuccessCount           int     `json:"success_count"`
	FailedCount            int     `json:"failed_count"`
	WarningCount           int     `json:"warning_count"`
	SuccessRate            float64 `json:"success_rate"`
	AverageDurationSeconds int     `json:"average_duration_seconds"`
	TotalSizeGB            float64 `json:"total_size_gb"`
	ActiveJobs             int     `json:"active_jobs"`
}
