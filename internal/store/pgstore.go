package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

// scannable is satisfied by both pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// PgStore implements Store using PostgreSQL via pgxpool.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL-backed store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const jobCols = `id, name, active, retention_days, created_at`

const copyCols = `id, job_id, role, media_type, storage_path,
	last_backup_date, last_backup_size, status`

const executionCols = `id, job_id, COALESCE(copy_id, ''), executed_at, result,
	duration_seconds, size_bytes, error_message`

// SaveJob inserts or updates a backup job.
func (s *PgStore) SaveJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_jobs (`+jobCols+`)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			name=$2, active=$3, retention_days=$4`,
		job.ID, job.Name, job.Active, job.RetentionDays, job.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "pgstore: save job")
	}
	return nil
}

// GetJob retrieves a backup job by ID.
func (s *PgStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobCols+` FROM backup_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListActiveJobs returns all active jobs ordered by name.
func (s *PgStore) ListActiveJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobCols+` FROM backup_jobs WHERE active ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: list active jobs")
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SaveCopy inserts or updates a backup copy.
func (s *PgStore) SaveCopy(ctx context.Context, cp *models.BackupCopy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_copies (`+copyCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			role=$3, media_type=$4, storage_path=$5,
			last_backup_date=$6, last_backup_size=$7, status=$8`,
		cp.ID, cp.JobID, string(cp.Role), string(cp.MediaType), cp.StoragePath,
		cp.LastBackupDate, cp.LastBackupSize, string(cp.Status))
	if err != nil {
		return errors.Wrap(err, "pgstore: save copy")
	}
	return nil
}

// ListCopies returns every copy of a job.
func (s *PgStore) ListCopies(ctx context.Context, jobID string) ([]models.BackupCopy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+copyCols+` FROM backup_copies WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: list copies")
	}
	defer rows.Close()

	var copies []models.BackupCopy
	for rows.Next() {
		cp, scanErr := scanCopy(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		copies = append(copies, *cp)
	}
	return copies, rows.Err()
}

// RecordExecution appends an execution and, when it names a copy, updates
// that copy in the same transaction.
func (s *PgStore) RecordExecution(ctx context.Context, e *models.Execution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "pgstore: begin record execution")
	}
	defer tx.Rollback(ctx)

	var copyID *string
	if e.CopyID != "" {
		copyID = &e.CopyID
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO backup_executions (id, job_id, copy_id, executed_at, result,
			duration_seconds, size_bytes, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.JobID, copyID, e.ExecutedAt, string(e.Result),
		e.DurationSeconds, e.SizeBytes, e.ErrorMessage)
	if err != nil {
		return errors.Wrap(err, "pgstore: insert execution")
	}

	if copyID != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE backup_copies
			SET last_backup_date=$3, last_backup_size=COALESCE($4, last_backup_size), status=$5
			WHERE id=$1 AND job_id=$2`,
			e.CopyID, e.JobID, e.ExecutedAt, e.SizeBytes, string(CopyStatusFor(e.Result)))
		if err != nil {
			return errors.Wrap(err, "pgstore: update copy from execution")
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(ErrNotFound, "pgstore: copy %q of job %q", e.CopyID, e.JobID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "pgstore: commit record execution")
	}
	return nil
}

// ListExecutions returns executions in [since, until], newest first.
func (s *PgStore) ListExecutions(ctx context.Context, jobID string, since, until time.Time) ([]models.Execution, error) {
	query := `SELECT ` + executionCols + ` FROM backup_executions
		WHERE executed_at BETWEEN $1 AND $2`
	args := []any{since, until}
	if jobID != "" {
		query += ` AND job_id = $3`
		args = append(args, jobID)
	}
	query += ` ORDER BY executed_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: list executions")
	}
	defer rows.Close()

	var execs []models.Execution
	for rows.Next() {
		e, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		execs = append(execs, *e)
	}
	return execs, rows.Err()
}

// SaveComplianceResult appends a compliance audit row.
func (s *PgStore) SaveComplianceResult(ctx context.Context, r *models.ComplianceResult) error {
	details, err := json.Marshal(r.Copies)
	if err != nil {
		return errors.Wrap(err, "pgstore: marshal copy summaries")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO compliance_results (id, job_id, status, compliant, copies_count,
			media_types_count, has_offsite, has_offline, has_errors,
			violations, warnings, details, evaluated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		uuid.NewString(), r.JobID, string(r.Status), r.Compliant, r.CopiesCount,
		r.MediaTypesCount, r.HasOffsite, r.HasOffline, r.HasErrors,
		r.Violations, r.Warnings, details, r.EvaluatedAt)
	if err != nil {
		return errors.Wrap(err, "pgstore: save compliance result")
	}
	return nil
}

// SaveSLAMetrics appends an SLA snapshot row.
func (s *PgStore) SaveSLAMetrics(ctx context.Context, m *models.SLAMetrics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sla_snapshots (id, job_id, window_days, success_rate,
			average_duration_seconds, max_duration_seconds, last_execution_date,
			total_executions, success_count, failed_count, warning_count,
			is_compliant, violations, calculated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		uuid.NewString(), m.JobID, m.WindowDays, m.SuccessRate,
		m.AverageDurationSeconds, m.MaxDurationSeconds, m.LastExecutionDate,
		m.TotalExecutions, m.SuccessCount, m.FailedCount, m.WarningCount,
		m.IsCompliant, m.Violations, m.CalculatedAt)
	if err != nil {
		return errors.Wrap(err, "pgstore: save sla metrics")
	}
	return nil
}

func scanJob(s scannable) (*models.Job, error) {
	var job models.Job
	err := s.Scan(&job.ID, &job.Name, &job.Active, &job.RetentionDays, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrap(ErrNotFound, "pgstore: job")
		}
		return nil, errors.Wrap(err, "pgstore: scan job")
	}
	return &job, nil
}

func scanCopy(s scannable) (*models.BackupCopy, error) {
	var cp models.BackupCopy
	var role, mediaType, status string
	err := s.Scan(&cp.ID, &cp.JobID, &role, &mediaType, &cp.StoragePath,
		&cp.LastBackupDate, &cp.LastBackupSize, &status)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: scan copy")
	}
	cp.Role = models.CopyRole(role)
	cp.MediaType = models.MediaType(mediaType)
	cp.Status = models.CopyStatus(status)
	return &cp, nil
}

func scanExecution(s scannable) (*models.Execution, error) {
	var e models.Execution
	var result string
	err := s.Scan(&e.ID, &e.JobID, &e.CopyID, &e.ExecutedAt, &result,
		&e.DurationSeconds, &e.SizeBytes, &e.ErrorMessage)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: scan execution")
	}
	e.Result = models.ExecutionResult(result)
	return &e, nil
}
