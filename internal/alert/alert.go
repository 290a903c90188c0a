// Package alert turns failing compliance results and SLA violations into
// alerts, suppresses repeats within a dedup window and publishes the rest.
package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

// Kind identifies what produced an alert.
type Kind string

const (
	KindCompliance Kind = "compliance"
	KindSLA        Kind = "sla"
)

// Severity is the urgency of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Alert is the message published for a job that needs attention.
type Alert struct {
	Kind       Kind      `json:"kind"`
	Severity   Severity  `json:"severity"`
	JobID      string    `json:"job_id"`
	JobName    string    `json:"job_name"`
	Status     string    `json:"status"`
	Violations []string  `json:"violations"`
	Warnings   []string  `json:"warnings,omitempty"`
	RaisedAt   time.Time `json:"raised_at"`
}

// numberPattern matches numbers that start a word, such as ages and rates.
// Digits inside identifiers like "LTO-0042" are left alone.
var numberPattern = regexp.MustCompile(`(^|\s)\d+(?:\.\d+)?`)

// DedupKey identifies alerts that are considered the same: same job, same
// kind and the same conditions. Numbers in the condition text are masked,
// so a stale job whose age grows between sweeps keeps its key.
func (a Alert) DedupKey() string {
	h := sha256.New()
	h.Write([]byte(conditionText(a.Violations)))
	h.Write([]byte{0})
	h.Write([]byte(conditionText(a.Warnings)))
	return a.JobID + ":" + string(a.Kind) + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

func conditionText(messages []string) string {
	return numberPattern.ReplaceAllString(strings.Join(messages, "\n"), "${1}#")
}

// FromCompliance builds an alert for a result whose status is non_compliant,
// warning or error. It returns false for any other status.
func FromCompliance(r *models.ComplianceResult) (Alert, bool) {
	var severity Severity
	switch r.Status {
	case models.ComplianceStatusNonCompliant, models.ComplianceStatusError:
		severity = SeverityCritical
	case models.ComplianceStatusWarning:
		severity = SeverityWarning
	default:
		return Alert{}, false
	}

	return Alert{
		Kind:       KindCompliance,
		Severity:   severity,
		JobID:      r.JobID,
		JobName:    r.JobName,
		Status:     string(r.Status),
		Violations: append([]string(nil), r.Violations...),
		Warnings:   append([]string(nil), r.Warnings...),
		RaisedAt:   r.EvaluatedAt,
	}, true
}

// FromSLA builds an alert for metrics with at least one violation.
func FromSLA(m *models.SLAMetrics) (Alert, bool) {
	if len(m.Violations) == 0 {
		return Alert{}, false
	}
	return Alert{
		Kind:       KindSLA,
		Severity:   SeverityWarning,
		JobID:      m.JobID,
		JobName:    m.JobName,
		Status:     "sla_violation",
		Violations: append([]string(nil), m.Violations...),
		RaisedAt:   m.CalculatedAt,
	}, true
}

// Publisher delivers alerts to their destination.
type Publisher interface {
	Publish(ctx context.Context, a Alert) error
}

// Deduper records sent alerts. MarkAlerted returns true when the key had not
// been seen within the window.
type Deduper interface {
	MarkAlerted(ctx context.Context, key string, window time.Duration) (bool, error)
}

// Dispatcher deduplicates alerts and hands the rest to a Publisher.
type Dispatcher struct {
	publisher Publisher
	deduper   Deduper
	window    time.Duration
	logger    zerolog.Logger
}

// NewDispatcher creates a Dispatcher. A nil deduper disables deduplication.
func NewDispatcher(publisher Publisher, deduper Deduper, window time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		deduper:   deduper,
		window:    window,
		logger:    logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Notify publishes a unless an identical alert was sent within the dedup
// window. It reports whether the alert was published. If the deduper fails
// the alert is published anyway.
func (d *Dispatcher) Notify(ctx context.Context, a Alert) (bool, error) {
	if d.deduper != nil && d.window > 0 {
		fresh, err := d.deduper.MarkAlerted(ctx, a.DedupKey(), d.window)
		if err != nil {
			d.logger.Warn().Err(err).Str("job_id", a.JobID).Msg("alert dedup unavailable, publishing anyway")
		} else if !fresh {
			d.logger.Debug().Str("job_id", a.JobID).Str("kind", string(a.Kind)).Msg("alert suppressed by dedup window")
			return false, nil
		}
	}

	if err := d.publisher.Publish(ctx, a); err != nil {
		return false, errors.Wrapf(err, "alert: publish %s alert for job %s", a.Kind, a.JobID)
	}
	return true, nil
}

// LogPublisher writes alerts to the log. It is used when no message broker
// is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "alerts").Logger()}
}

// Publish logs the alert at warn level, or error level when critical.
func (p *LogPublisher) Publish(ctx context.Context, a Alert) error {
	event := p.logger.Warn()
	if a.Severity == SeverityCritical {
		event = p.logger.Error()
	}
	event.
		Str("kind", string(a.Kind)).
		Str("job_id", a.JobID).
		Str("job_name", a.JobName).
		Str("status", a.Status).
		Strs("violations", a.Violations).
		Strs("warnings", a.Warnings).
		Msg("backup alert")
	return nil
}
