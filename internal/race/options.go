package race

import (
	"fetchrace/internal/eventbus"
	"fetchrace/internal/runtime/supervisor"
	logx "fetchrace/pkg/logx"
)

type Option func(*Coordinator)

func WithLogger(log logx.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithBus publishes lifecycle events. Publishing never blocks the run.
func WithBus(bus eventbus.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithSupervisor tracks attempt goroutines so the caller can wait for
// aborted fetches to wind down.
func WithSupervisor(sup *supervisor.Supervisor) Option {
	return func(c *Coordinator) { c.sup = sup }
}

func WithStrategy(s Strategy) Option {
	return func(c *Coordinator) {
		if s != "" {
			c.strategy = s
		}
	}
}

// WithBackoff delays replacement attempts. Nil means retry immediately.
func WithBackoff(b Backoff) Option {
	return func(c *Coordinator) { c.backoff = b }
}

func WithRunID(id string) Option {
	return func(c *Coordinator) { c.runID = id }
}
