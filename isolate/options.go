package isolate

import (
	"time"

	"go.uber.org/zap"
)

// ReplFunc starts an interactive loop on a bootstrapped primary isolate.
type ReplFunc func(*Isolate) error

// Option configures an Isolate.
type Option func(*config)

type config struct {
	log  *zap.Logger
	repl ReplFunc
	now  func() time.Time
}

func defaultConfig() config {
	return config{
		log: zap.NewNop(),
		now: time.Now,
	}
}

// WithLogger sets the logger. Bootstrap details are only logged at debug
// level when the host reports debugFlag.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRepl sets the function run after a primary bootstrap when the host
// requests an interactive session.
func WithRepl(fn ReplFunc) Option {
	return func(c *config) {
		c.repl = fn
	}
}

// WithClock sets the time source for the timer queue.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}
