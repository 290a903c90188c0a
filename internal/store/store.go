// Package store implements the data-access and persistence collaborators of
// the compliance engine: reading jobs, copies and executions, accepting the
// status updates posted by backup scripts, and keeping an audit trail of
// compliance results and SLA snapshots.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

// ErrNotFound is returned when a referenced job or copy does not exist.
var ErrNotFound = errors.New("store: not found")

// DataSource provides the read-only queries the engine evaluates.
// Implementations must be safe for concurrent use.
type DataSource interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListActiveJobs(ctx context.Context) ([]*models.Job, error)
	ListCopies(ctx context.Context, jobID string) ([]models.BackupCopy, error)

	// ListExecutions returns executions in [since, until], newest first.
	// An empty jobID selects executions of every job.
	ListExecutions(ctx context.Context, jobID string, since, until time.Time) ([]models.Execution, error)
}

// ResultSink stores evaluation snapshots as audit rows.
type ResultSink interface {
	SaveComplianceResult(ctx context.Context, result *models.ComplianceResult) error
	SaveSLAMetrics(ctx context.Context, metrics *models.SLAMetrics) error
}

// Writer accepts the job inventory and status updates reported by the
// external backup scripts.
type Writer interface {
	SaveJob(ctx context.Context, job *models.Job) error
	SaveCopy(ctx context.Context, cp *models.BackupCopy) error

	// RecordExecution appends an execution. When the execution names a copy,
	// that copy's last-backup fields and status are updated to match.
	RecordExecution(ctx context.Context, exec *models.Execution) error
}

// Store is the full persistence surface.
type Store interface {
	DataSource
	ResultSink
	Writer
}

// CopyStatusFor maps an execution result onto the status of the copy it wrote.
func CopyStatusFor(result models.ExecutionResult) models.CopyStatus {
	switch result {
	case models.ExecutionSuccess:
		return models.CopyStatusSuccess
	case models.ExecutionFailed:
		return models.CopyStatusFailed
	case models.ExecutionWarning:
		return models.CopyStatusWarning
	default:
		return models.CopyStatusUnknown
	}
}

// IsNotFound reports whether err, or any error it wraps, is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
