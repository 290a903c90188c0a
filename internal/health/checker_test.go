package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func ok(ctx context.Context) error   { return nil }
func down(ctx context.Context) error { return errors.New("connection refused") }

func TestRun_AllHealthy(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("postgres", true, ok)
	c.Register("redis", false, ok)

	summary := c.Run(context.Background())
	if summary.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", summary.Status)
	}
	if len(summary.Checks) != 2 || summary.Checks[0].Name != "postgres" {
		t.Errorf("expected checks sorted by name, got %+v", summary.Checks)
	}
}

func TestRun_NonCriticalFailureDegrades(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("postgres", true, ok)
	c.Register("nats", false, down)

	summary := c.Run(context.Background())
	if summary.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", summary.Status)
	}
	nats := summary.Checks[0]
	if nats.Status != StatusUnhealthy || nats.Message != "nats probe failed: connection refused" {
		t.Errorf("unexpected nats check %+v", nats)
	}
}

func TestRun_CriticalFailureIsUnhealthy(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("redis", false, down)
	c.Register("postgres", true, down)

	if s := c.Run(context.Background()).Status; s != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", s)
	}
}

func TestRun_ProbeTimeout(t *testing.T) {
	c := NewChecker(10 * time.Millisecond)
	c.Register("slow", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	summary := c.Run(context.Background())
	if summary.Status != StatusUnhealthy {
		t.Errorf("expected timed-out probe to be unhealthy, got %s", summary.Status)
	}
}

func TestHistoryBounded(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("redis", false, ok)

	for i := 0; i < maxHistory+5; i++ {
		c.Run(context.Background())
	}
	if n := len(c.History("redis")); n != maxHistory {
		t.Errorf("expected %d history entries, got %d", maxHistory, n)
	}
	if h := c.History("unknown"); len(h) != 0 {
		t.Errorf("expected empty history, got %d", len(h))
	}
}

func TestRun_NoProbes(t *testing.T) {
	summary := NewChecker(0).Run(context.Background())
	if summary.Status != StatusHealthy || len(summary.Checks) != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
}
