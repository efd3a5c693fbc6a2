package subscription

import (
	"log/slog"
	"time"
)

const (
	// DefaultCallTimeout bounds every provider and store call made while handling an event.
	DefaultCallTimeout = 10 * time.Second

	// MaxCallsPerEvent is the number of sequential provider and store calls on
	// the longest event path: fetch and activate the subscription, four
	// identity calls, and an upsert that loses an insert race (find, insert,
	// find, update). The webhook response is written only after handling, so
	// the HTTP write timeout must cover MaxCallsPerEvent*DefaultCallTimeout.
	MaxCallsPerEvent = 10
)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the structured logger. Defaults to a discarding logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reconciler) {
		if log != nil {
			r.logger = log
		}
	}
}

// WithClock overrides the time source used for timestamps and fallback window starts.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithCallTimeout sets the per-call timeout for provider and store operations.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithDeduper enables event-ID deduplication.
func WithDeduper(d EventDeduper) Option {
	return func(r *Reconciler) {
		if d != nil {
			r.deduper = d
		}
	}
}

// WithMetrics records per-event counters and latencies.
func WithMetrics(m *Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}
