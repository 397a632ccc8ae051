// Package retry implements the backoff policy applied to failed attempts.
//
// Delays follow capped exponential backoff with jitter, built on
// cenkalti/backoff, so simultaneous failures do not re-dispatch in a
// thundering herd. Each retry carries causal context forward: the note
// appended to the task tells the next attempt why the previous one failed.
package retry

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Policy tunes retry delays.
type Policy struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	// MaxDelay caps the delay regardless of attempt count.
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// Multiplier is the exponential growth factor per attempt.
	Multiplier float64 `mapstructure:"multiplier"`
	// Jitter is the randomization factor in [0, 1) applied to each delay.
	Jitter float64 `mapstructure:"jitter"`
}

// DefaultPolicy returns the stock retry tuning.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 2 * time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   2.0,
		Jitter:       0.3,
	}
}

// normalize fills zero fields with defaults.
func (p Policy) normalize() Policy {
	d := DefaultPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	return p
}

// NextDelay returns the backoff delay before the given retry attempt
// (0-indexed: attempt 0 is the first retry). The delay is
// min(maxDelay, initialDelay * multiplier^attempt) plus randomized jitter.
func (p Policy) NextDelay(attempt int) time.Duration {
	p = p.normalize()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0 // the engine owns the retry budget, not the clock
	b.Reset()

	var delay time.Duration
	for i := 0; i <= attempt; i++ {
		delay = b.NextBackOff()
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// BareDelay returns the deterministic delay for an attempt with jitter
// stripped. Exposed for tests asserting the exponential shape.
func (p Policy) BareDelay(attempt int) time.Duration {
	p = p.normalize()

	delay := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// ContextNote builds the causal note appended to a task's retry context
// before it is requeued, so the next attempt is not a blind repeat.
func ContextNote(attempt int, outcome models.Outcome, reason string) string {
	if reason == "" {
		reason = "(no error recorded)"
	}
	return fmt.Sprintf("attempt %d failed (%s): %s", attempt, outcome, reason)
}

// Apply records a failed attempt on the task: increments the retry count,
// stores the last error, and appends the causal context note.
func Apply(task *models.Task, outcome models.Outcome, reason string) {
	task.RetryCount++
	task.LastError = reason
	task.RetryContext = append(task.RetryContext, ContextNote(task.RetryCount, outcome, reason))
}
