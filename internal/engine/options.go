package engine

import (
	"time"

	"github.com/ShayCichocki/conductor/internal/breaker"
	"github.com/ShayCichocki/conductor/internal/priority"
	"github.com/ShayCichocki/conductor/internal/retry"
)

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

// engineOptions holds all optional configuration.
type engineOptions struct {
	concurrency       int
	tickInterval      time.Duration
	execTimeout       time.Duration
	stuckMultiple     float64
	cancelGrace       time.Duration
	defaultMaxRetries int
	retryPolicy       retry.Policy
	breakerConfig     breaker.Config
	weights           priority.Weights
	logger            *DebugLogger
	emitter           *EventEmitter
	now               func() time.Time
}

func defaultOptions() *engineOptions {
	return &engineOptions{
		concurrency:       4,
		tickInterval:      time.Second,
		execTimeout:       10 * time.Minute,
		stuckMultiple:     3.0,
		cancelGrace:       10 * time.Second,
		defaultMaxRetries: 3,
		retryPolicy:       retry.DefaultPolicy(),
		breakerConfig:     breaker.DefaultConfig(),
		weights:           priority.DefaultWeights(),
		now:               time.Now,
	}
}

// WithConcurrency sets the maximum number of in-flight executions.
func WithConcurrency(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithTickInterval sets the control loop period.
func WithTickInterval(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.tickInterval = d
		}
	}
}

// WithExecTimeout sets the per-attempt execution timeout.
func WithExecTimeout(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.execTimeout = d
		}
	}
}

// WithStuckMultiple sets the heartbeat staleness multiple that marks a
// running task as stuck.
func WithStuckMultiple(m float64) Option {
	return func(o *engineOptions) {
		if m >= 1 {
			o.stuckMultiple = m
		}
	}
}

// WithCancelGrace sets how long a canceled execution gets to shut down
// cooperatively.
func WithCancelGrace(d time.Duration) Option {
	return func(o *engineOptions) {
		if d >= 0 {
			o.cancelGrace = d
		}
	}
}

// WithDefaultMaxRetries sets the retry budget applied when a submission
// doesn't declare one.
func WithDefaultMaxRetries(n int) Option {
	return func(o *engineOptions) {
		if n >= 0 {
			o.defaultMaxRetries = n
		}
	}
}

// WithRetryPolicy sets the backoff policy for requeued failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *engineOptions) { o.retryPolicy = p }
}

// WithBreakerConfig sets the per-handler circuit breaker configuration.
func WithBreakerConfig(c breaker.Config) Option {
	return func(o *engineOptions) { o.breakerConfig = c }
}

// WithWeights sets the priority calculator weights.
func WithWeights(w priority.Weights) Option {
	return func(o *engineOptions) { o.weights = w }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithEmitter sets a custom event emitter (mainly for testing).
func WithEmitter(e *EventEmitter) Option {
	return func(o *engineOptions) { o.emitter = e }
}

// WithClock sets the time source (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}
