package obs

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recording struct {
	events []Event
}

func (r *recording) Observe(ev Event) { r.events = append(r.events, ev) }

func TestMulti(t *testing.T) {
	a, b := &recording{}, &recording{}
	m := Multi(a, b)

	m.Observe(Event{Component: "session", Op: "append"})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("fan-out reached %d and %d observers", len(a.events), len(b.events))
	}
}

func TestNop(t *testing.T) {
	// Must not panic or block.
	Nop().Observe(Event{Component: "memory", Op: "upsert", Err: errors.New("x")})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.Observe(Event{Component: "memory", Op: "retrieve", Duration: 5 * time.Millisecond})
	m.Observe(Event{Component: "memory", Op: "retrieve", Err: errors.New("backend down")})
	m.Observe(Event{Component: "session", Op: "append", Err: errors.New("disk full")})

	if got := testutil.ToFloat64(m.failures.WithLabelValues("memory", "retrieve")); got != 1 {
		t.Errorf("memory/retrieve failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("session", "append")); got != 1 {
		t.Errorf("session/append failures = %v, want 1", got)
	}

	// The latency-only event must not count as a failure, only as a sample.
	if got := testutil.CollectAndCount(m.duration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics(reg); err != nil {
		t.Fatalf("first NewMetrics: %v", err)
	}
	if _, err := NewMetrics(reg); err == nil {
		t.Fatal("second registration on the same registry should fail")
	}
}
