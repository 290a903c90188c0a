// Package sla implements SLA target management and execution-history metrics.
//
// The Registry holds named threshold rules (minimum success rate, maximum
// duration, maximum age since the last run) scoped either globally or to a
// single job. The Monitor aggregates a job's executions over a window and
// checks every matching target, collecting all violations.
package sla

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

// Default target IDs seeded by NewDefaultRegistry.
const (
	DefaultSuccessRateTargetID = "default-success-rate"
	DefaultMaxAgeTargetID      = "default-max-age"
)

// TargetLister is the read side of the registry used during evaluation.
type TargetLister interface {
	ListActive(jobID string) []models.SLATarget
}

// Registry is a concurrency-safe, ordered set of SLA targets keyed by ID.
// Registering an existing ID replaces its content but keeps its position.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]models.SLATarget
	order   []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		targets: make(map[string]models.SLATarget),
	}
}

// NewDefaultRegistry creates a Registry seeded with DefaultTargets.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range DefaultTargets() {
		// Defaults are valid by construction.
		_ = r.Register(t)
	}
	return r
}

// DefaultTargets returns the global targets every deployment starts with:
// a 95% minimum success rate and a 36-hour maximum age, which covers
// roughly one and a half daily cycles.
func DefaultTargets() []models.SLATarget {
	maxAge := 36.0
	return []models.SLATarget{
		{
			ID:             DefaultSuccessRateTargetID,
			Name:           "Default success rate",
			MinSuccessRate: 95.0,
			Enabled:        true,
		},
		{
			ID:          DefaultMaxAgeTargetID,
			Name:        "Default maximum age",
			MaxAgeHours: &maxAge,
			Enabled:     true,
		},
	}
}

// Register adds or replaces a target. A target without an ID is assigned
// a generated one. Registering never conflicts; the last write wins.
func (r *Registry) Register(target models.SLATarget) error {
	if err := validateTarget(target); err != nil {
		return err
	}
	if target.ID == "" {
		target.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[target.ID]; !exists {
		r.order = append(r.order, target.ID)
	}
	r.targets[target.ID] = cloneTarget(target)
	return nil
}

// Unregister removes a target. Removing an unknown ID is a no-op.
func (r *Registry) Unregister(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[targetID]; !exists {
		return
	}
	delete(r.targets, targetID)
	for i, id := range r.order {
		if id == targetID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the target with the given ID.
func (r *Registry) Get(targetID string) (models.SLATarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.targets[targetID]
	if !ok {
		return models.SLATarget{}, false
	}
	return cloneTarget(t), true
}

// List returns every registered target, enabled or not, in registration order.
func (r *Registry) List() []models.SLATarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SLATarget, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneTarget(r.targets[id]))
	}
	return out
}

// ListActive returns the enabled targets that apply to jobID: all global
// targets plus those scoped to the job, in registration order.
func (r *Registry) ListActive(jobID string) []models.SLATarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.SLATarget
	for _, id := range r.order {
		t := r.targets[id]
		if t.Enabled && t.AppliesTo(jobID) {
			out = append(out, cloneTarget(t))
		}
	}
	return out
}

func validateTarget(t models.SLATarget) error {
	if t.MinSuccessRate < 0 || t.MinSuccessRate > 100 {
		return errors.Errorf("sla: min_success_rate must be between 0 and 100, got %.1f", t.MinSuccessRate)
	}
	if t.MaxDurationSeconds != nil && *t.MaxDurationSeconds <= 0 {
		return errors.New("sla: max_duration_seconds must be positive")
	}
	if t.MaxAgeHours != nil && *t.MaxAgeHours <= 0 {
		return errors.New("sla: max_age_hours must be positive")
	}
	return nil
}

// cloneTarget deep-copies the pointer fields so callers cannot mutate
// registry state through a returned value.
func cloneTarget(t models.SLATarget) models.SLATarget {
	if t.JobID != nil {
		v := *t.JobID
		t.JobID = &v
	}
	if t.MaxDurationSeconds != nil {
		v := *t.MaxDurationSeconds
		t.MaxDurationSeconds = &v
	}
	if t.MaxAgeHours != nil {
		v := *t.MaxAgeHours
		t.MaxAgeHours = &v
	}
	return t
}
