package alert

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NATSPublisher publishes alerts as JSON on "<subject>.<kind>".
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("custodian"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "alert: connect to NATS at %s", url)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Subject returns the subject an alert of the given kind is published on.
func (p *NATSPublisher) Subject(kind Kind) string {
	return p.subject + "." + string(kind)
}

// Publish sends the alert.
func (p *NATSPublisher) Publish(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "alert: marshal")
	}
	if err := p.conn.Publish(p.Subject(a.Kind), data); err != nil {
		return errors.Wrap(err, "alert: nats publish")
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
		p.conn.Close()
	}
}

// Ping reports whether the connection is currently usable.
func (p *NATSPublisher) Ping(ctx context.Context) error {
	if !p.conn.IsConnected() {
		return errors.Errorf("alert: nats connection %s", p.conn.Status())
	}
	return nil
}
