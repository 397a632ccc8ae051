// Package breaker implements a per-execution-target circuit breaker.
//
// Each handler class gets its own breaker state: a rolling failure count
// within a trailing window. At the threshold the breaker opens and tasks
// routed to that handler are held, not dispatched and not failed, until the
// reset timeout elapses. The breaker then half-opens, permits one trial
// dispatch, and closes on success or reopens on failure.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker state for one handler.
type State int

const (
	// Closed permits dispatch.
	Closed State = iota
	// Open holds dispatch until the reset deadline.
	Open
	// HalfOpen permits a single trial dispatch.
	HalfOpen
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes breaker behavior.
type Config struct {
	// FailureThreshold is the rolling failure count that opens the breaker.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// Window is the trailing window failures are counted within.
	Window time.Duration `mapstructure:"window"`
	// ResetTimeout is how long an open breaker holds before half-opening.
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// DefaultConfig returns the stock breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           5 * time.Minute,
		ResetTimeout:     time.Minute,
	}
}

// target is the breaker record for one handler class. Created lazily,
// mutated only by the dispatcher via Breaker methods.
type target struct {
	failures      []time.Time
	lastFailure   time.Time
	state         State
	resetDeadline time.Time
	trialInFlight bool
}

// Breaker tracks per-handler circuit state.
type Breaker struct {
	mu      sync.Mutex
	cfg     Config
	targets map[string]*target
	// now is injectable for tests.
	now func() time.Time
}

// New creates a Breaker with the given config.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Breaker{
		cfg:     cfg,
		targets: make(map[string]*target),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Allow reports whether a task routed to handler may be dispatched now.
// An open breaker past its reset deadline half-opens and admits exactly one
// trial dispatch; further callers are held until the trial resolves.
func (b *Breaker) Allow(handler string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.targets[handler]
	if t == nil {
		return true
	}

	switch t.state {
	case Closed:
		return true
	case Open:
		if b.now().Before(t.resetDeadline) {
			return false
		}
		t.state = HalfOpen
		t.trialInFlight = true
		return true
	case HalfOpen:
		if t.trialInFlight {
			return false
		}
		t.trialInFlight = true
		return true
	}
	return true
}

// AbandonTrial releases a half-open trial reservation when the attempt
// resolved without an outcome, such as a cancellation mid-flight. The breaker
// stays half-open so the next Allow admits a fresh trial.
func (b *Breaker) AbandonTrial(handler string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.targets[handler]
	if t == nil {
		return
	}
	if t.state == HalfOpen {
		t.trialInFlight = false
	}
}

// RecordSuccess notes a successful execution against handler. A half-open
// breaker closes and its failure history is cleared.
func (b *Breaker) RecordSuccess(handler string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.targets[handler]
	if t == nil {
		return
	}
	t.state = Closed
	t.trialInFlight = false
	t.failures = nil
}

// RecordFailure notes a failed execution against handler. Returns true if
// the failure opened (or reopened) the breaker.
func (b *Breaker) RecordFailure(handler string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	t := b.targets[handler]
	if t == nil {
		t = &target{}
		b.targets[handler] = t
	}
	t.lastFailure = now

	if t.state == HalfOpen {
		// Trial failed: reopen without waiting for the threshold.
		t.state = Open
		t.trialInFlight = false
		t.resetDeadline = now.Add(b.cfg.ResetTimeout)
		return true
	}

	t.failures = append(t.failures, now)
	t.pruneWindow(now, b.cfg.Window)

	if t.state == Closed && len(t.failures) >= b.cfg.FailureThreshold {
		t.state = Open
		t.resetDeadline = now.Add(b.cfg.ResetTimeout)
		return true
	}
	return false
}

// pruneWindow drops failures older than the trailing window.
func (t *target) pruneWindow(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := t.failures[:0]
	for _, f := range t.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	t.failures = kept
}

// State returns the current state for handler. Unknown handlers are Closed.
func (b *Breaker) State(handler string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.targets[handler]
	if t == nil {
		return Closed
	}
	if t.state == Open && !b.now().Before(t.resetDeadline) {
		return HalfOpen
	}
	return t.state
}

// OpenHandlers returns the handlers whose breakers are currently holding
// dispatch, for queue-status reporting.
func (b *Breaker) OpenHandlers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var open []string
	now := b.now()
	for name, t := range b.targets {
		if t.state == Open && now.Before(t.resetDeadline) {
			open = append(open, name)
		}
	}
	return open
}

// Reap drops breaker records whose last failure is older than the given
// age and whose state is closed. Called by the liveness monitor.
func (b *Breaker) Reap(olderThan time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-olderThan)
	reaped := 0
	for name, t := range b.targets {
		if t.state == Closed && t.lastFailure.Before(cutoff) {
			delete(b.targets, name)
			reaped++
		}
	}
	return reaped
}
