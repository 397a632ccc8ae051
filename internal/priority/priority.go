// Package priority computes composite scheduling scores for tasks.
//
// The score is a weighted sum of independent components: declared base
// priority, deadline urgency, dependency fan-out, starvation prevention,
// and a source boost. Each component is a pure function of the task and
// the supplied clock, so scores are deterministic and unit-testable in
// isolation.
package priority

import (
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Weights tunes the relative contribution of each score component.
type Weights struct {
	// Base scales the declared 0-10 base priority.
	Base float64 `mapstructure:"base"`
	// Urgency scales the deadline proximity component.
	Urgency float64 `mapstructure:"urgency"`
	// Dependents scales the per-blocked-dependent boost.
	Dependents float64 `mapstructure:"dependents"`
	// Starvation scales the wait-time component.
	Starvation float64 `mapstructure:"starvation"`
	// StarvationCap bounds the starvation component before weighting, so
	// wait time can never dominate every other factor.
	StarvationCap float64 `mapstructure:"starvation_cap"`
	// UrgencyHorizon is how far before a deadline urgency starts rising.
	UrgencyHorizon time.Duration `mapstructure:"urgency_horizon"`
	// SourceBoost is a fixed additive term per origin classification.
	SourceBoost map[models.Source]float64 `mapstructure:"source_boost"`
}

// DefaultWeights returns the stock tuning. Human-requested work outranks
// internally generated follow-up work by default.
func DefaultWeights() Weights {
	return Weights{
		Base:           1.0,
		Urgency:        2.0,
		Dependents:     0.5,
		Starvation:     0.1,
		StarvationCap:  5.0,
		UrgencyHorizon: 24 * time.Hour,
		SourceBoost: map[models.Source]float64{
			models.SourceHuman:     2.0,
			models.SourceScheduler: 0.5,
			models.SourceAgent:     1.0,
			models.SourceFollowup:  0.0,
		},
	}
}

// Calculator scores tasks. It holds no mutable state beyond its weights.
type Calculator struct {
	weights Weights
}

// NewCalculator creates a Calculator with the given weights.
func NewCalculator(w Weights) *Calculator {
	if w.StarvationCap <= 0 {
		w.StarvationCap = DefaultWeights().StarvationCap
	}
	if w.UrgencyHorizon <= 0 {
		w.UrgencyHorizon = DefaultWeights().UrgencyHorizon
	}
	return &Calculator{weights: w}
}

// Score computes the composite priority for a task at the given instant.
// dependents is the number of direct dependents currently blocked on this
// task. Deterministic given identical inputs.
func (c *Calculator) Score(task *models.Task, dependents int, now time.Time) float64 {
	w := c.weights
	return w.Base*BaseComponent(task) +
		w.Urgency*UrgencyComponent(task, now, w.UrgencyHorizon) +
		w.Dependents*DependentsComponent(dependents) +
		w.Starvation*StarvationComponent(task, now, w.StarvationCap) +
		SourceComponent(task, w.SourceBoost)
}

// BaseComponent is the declared base priority, linearly scaled to [0, 1].
func BaseComponent(task *models.Task) float64 {
	base := task.BasePriority
	if base < models.MinBasePriority {
		base = models.MinBasePriority
	}
	if base > models.MaxBasePriority {
		base = models.MaxBasePriority
	}
	return float64(base) / float64(models.MaxBasePriority)
}

// UrgencyComponent rises from 0 to 1 as the deadline approaches within the
// horizon. No deadline contributes zero. A missed deadline contributes the
// fixed maximum: it never goes negative or wraps.
func UrgencyComponent(task *models.Task, now time.Time, horizon time.Duration) float64 {
	if !task.HasDeadline() {
		return 0
	}
	remaining := task.Deadline.Sub(now)
	if remaining <= 0 {
		return 1
	}
	if remaining >= horizon {
		return 0
	}
	return 1 - float64(remaining)/float64(horizon)
}

// DependentsComponent rewards unblocking high-fan-out tasks: one unit per
// direct dependent currently blocked on this task.
func DependentsComponent(dependents int) float64 {
	if dependents < 0 {
		return 0
	}
	return float64(dependents)
}

// StarvationComponent grows monotonically with wait time since creation,
// one unit per hour, capped so it cannot grow without bound.
func StarvationComponent(task *models.Task, now time.Time, cap float64) float64 {
	waited := now.Sub(task.CreatedAt)
	if waited <= 0 {
		return 0
	}
	hours := waited.Hours()
	if hours > cap {
		return cap
	}
	return hours
}

// SourceComponent is the fixed additive boost for the task's origin.
// Unknown sources contribute zero.
func SourceComponent(task *models.Task, boosts map[models.Source]float64) float64 {
	return boosts[task.Source]
}
