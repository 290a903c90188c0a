// Package health implements dependency health monitoring for the compliance
// service.
//
// Each backing dependency (PostgreSQL, Redis, NATS) is registered as a named
// probe. The checker runs every probe, keeps a bounded history of results per
// dependency and produces an aggregate summary for the /health endpoint.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Status is the health of a single dependency or of the service overall.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// maxHistory bounds the stored results per dependency.
const maxHistory = 100

// ProbeFunc checks one dependency and returns nil when it is reachable.
type ProbeFunc func(ctx context.Context) error

type probe struct {
	name     string
	critical bool
	check    ProbeFunc
}

// Check is the result of running one probe.
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Critical  bool          `json:"critical"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Summary aggregates the latest checks.
type Summary struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}

// Checker runs dependency probes and records their results.
type Checker struct {
	timeout time.Duration

	mu      sync.RWMutex
	probes  []probe
	history map[string][]Check
}

// NewChecker creates a Checker whose probes each get timeout to respond.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		timeout: timeout,
		history: make(map[string][]Check),
	}
}

// Register adds a probe. A failing critical probe makes the service
// unhealthy; a failing non-critical probe only degrades it.
func (c *Checker) Register(name string, critical bool, check ProbeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, probe{name: name, critical: critical, check: check})
}

// Run executes every probe and returns the aggregate summary.
func (c *Checker) Run(ctx context.Context) Summary {
	c.mu.RLock()
	probes := make([]probe, len(c.probes))
	copy(probes, c.probes)
	c.mu.RUnlock()

	summary := Summary{
		Status:    StatusHealthy,
		Checks:    make([]Check, 0, len(probes)),
		Timestamp: time.Now().UTC(),
	}

	for _, p := range probes {
		check := c.runProbe(ctx, p)
		c.storeCheck(check)
		summary.Checks = append(summary.Checks, check)

		if check.Status == StatusHealthy {
			continue
		}
		if p.critical {
			summary.Status = StatusUnhealthy
		} else if summary.Status == StatusHealthy {
			summary.Status = StatusDegraded
		}
	}

	sort.Slice(summary.Checks, func(i, j int) bool { return summary.Checks[i].Name < summary.Checks[j].Name })
	return summary
}

func (c *Checker) runProbe(ctx context.Context, p probe) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.check(ctx)
	check := Check{
		Name:      p.name,
		Status:    StatusHealthy,
		Critical:  p.critical,
		Latency:   time.Since(start),
		CheckedAt: start.UTC(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = errors.Wrapf(err, "%s probe failed", p.name).Error()
	}
	return check
}

// History returns the stored results for a dependency, oldest first.
func (c *Checker) History(name string) []Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	history := c.history[name]
	out := make([]Check, len(history))
	copy(out, history)
	return out
}

func (c *Checker) storeCheck(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := append(c.history[check.Name], check)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	c.history[check.Name] = history
}
