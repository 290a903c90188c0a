package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

// MemoryStore implements Store in process memory. It backs the service when
// no database is configured and serves as the store in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	jobs       map[string]*models.Job
	copies     map[string][]models.BackupCopy // jobID -> copies
	executions map[string][]models.Execution  // jobID -> executions
	results    []models.ComplianceResult
	snapshots  []models.SLAMetrics
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]*models.Job),
		copies:     make(map[string][]models.BackupCopy),
		executions: make(map[string][]models.Execution),
	}
}

// SaveJob inserts or replaces a job.
func (s *MemoryStore) SaveJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := *job
	s.jobs[job.ID] = &j
	return nil
}

// GetJob returns a copy of the job with the given ID.
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "memstore: job %q", id)
	}
	j := *job
	return &j, nil
}

// ListActiveJobs returns active jobs ordered by name.
func (s *MemoryStore) ListActiveJobs(ctx context.Context) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Active {
			j := *job
			jobs = append(jobs, &j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Name < jobs[k].Name })
	return jobs, nil
}

// SaveCopy inserts or replaces a copy of an existing job.
func (s *MemoryStore) SaveCopy(ctx context.Context, cp *models.BackupCopy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[cp.JobID]; !ok {
		return errors.Wrapf(ErrNotFound, "memstore: job %q", cp.JobID)
	}

	copies := s.copies[cp.JobID]
	for i := range copies {
		if copies[i].ID == cp.ID {
			copies[i] = *cp
			return nil
		}
	}
	s.copies[cp.JobID] = append(copies, *cp)
	return nil
}

// ListCopies returns every copy of a job, ordered by ID.
func (s *MemoryStore) ListCopies(ctx context.Context, jobID string) ([]models.BackupCopy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copies := make([]models.BackupCopy, len(s.copies[jobID]))
	copy(copies, s.copies[jobID])
	sort.Slice(copies, func(i, k int) bool { return copies[i].ID < copies[k].ID })
	return copies, nil
}

// RecordExecution appends an execution and updates the copy it names.
func (s *MemoryStore) RecordExecution(ctx context.Context, e *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[e.JobID]; !ok {
		return errors.Wrapf(ErrNotFound, "memstore: job %q", e.JobID)
	}

	if e.CopyID != "" {
		copies := s.copies[e.JobID]
		idx := -1
		for i := range copies {
			if copies[i].ID == e.CopyID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.Wrapf(ErrNotFound, "memstore: copy %q of job %q", e.CopyID, e.JobID)
		}
		executedAt := e.ExecutedAt
		copies[idx].LastBackupDate = &executedAt
		if e.SizeBytes != nil {
			size := *e.SizeBytes
			copies[idx].LastBackupSize = &size
		}
		copies[idx].Status = CopyStatusFor(e.Result)
	}

	s.executions[e.JobID] = append(s.executions[e.JobID], *e)
	return nil
}

// ListExecutions returns executions in [since, until], newest first.
func (s *MemoryStore) ListExecutions(ctx context.Context, jobID string, since, until time.Time) ([]models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Execution
	collect := func(execs []models.Execution) {
		for _, e := range execs {
			if e.ExecutedAt.Before(since) || e.ExecutedAt.After(until) {
				continue
			}
			out = append(out, e)
		}
	}

	if jobID != "" {
		collect(s.executions[jobID])
	} else {
		for _, execs := range s.executions {
			collect(execs)
		}
	}

	sort.SliceStable(out, func(i, k int) bool { return out[i].ExecutedAt.After(out[k].ExecutedAt) })
	return out, nil
}

// SaveComplianceResult appends a compliance audit row.
func (s *MemoryStore) SaveComplianceResult(ctx context.Context, r *models.ComplianceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, *r)
	return nil
}

// SaveSLAMetrics appends an SLA snapshot.
func (s *MemoryStore) SaveSLAMetrics(ctx context.Context, m *models.SLAMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, *m)
	return nil
}

// ComplianceHistory returns the stored compliance results for a job, oldest first.
func (s *MemoryStore) ComplianceHistory(jobID string) []models.ComplianceResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ComplianceResult
	for _, r := range s.results {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out
}

// SLAHistory returns the stored SLA snapshots for a job, oldest first.
func (s *MemoryStore) SLAHistory(jobID string) []models.SLAMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SLAMetrics
	for _, m := range s.snapshots {
		if m.JobID == jobID {
			out = append(out, m)
		}
	}
	return out
}
