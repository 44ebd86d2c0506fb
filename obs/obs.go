// Package obs defines the observability collaborator: a sink for structured
// failure and latency events emitted by the managers. The subsystem never
// blocks on an Observer, so implementations must return quickly and buffer
// or drop internally if they do real I/O.
package obs

import (
	"log/slog"
	"time"
)

// Event is one structured report. Err is nil for pure latency events.
type Event struct {
	Component string
	Op        string
	UserID    string
	Duration  time.Duration
	Err       error
}

// Observer receives events from the memory subsystem.
type Observer interface {
	Observe(ev Event)
}

type nop struct{}

func (nop) Observe(Event) {}

// Nop returns an Observer that discards every event.
func Nop() Observer { return nop{} }

// Multi fans events out to several observers.
func Multi(observers ...Observer) Observer { return multi(observers) }

type multi []Observer

func (m multi) Observe(ev Event) {
	for _, o := range m {
		o.Observe(ev)
	}
}

// Logger adapts a slog.Logger into an Observer. Failures log at warn,
// latency-only events at debug.
func Logger(l *slog.Logger) Observer {
	if l == nil {
		l = slog.Default()
	}
	return &logObserver{l: l}
}

type logObserver struct {
	l *slog.Logger
}

func (o *logObserver) Observe(ev Event) {
	attrs := []any{
		"component", ev.Component,
		"op", ev.Op,
	}
	if ev.UserID != "" {
		attrs = append(attrs, "user", ev.UserID)
	}
	if ev.Duration > 0 {
		attrs = append(attrs, "duration", ev.Duration)
	}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err)
		o.l.Warn("memory subsystem failure", attrs...)
		return
	}
	o.l.Debug("memory subsystem op", attrs...)
}
