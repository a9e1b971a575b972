// Package gate decides whether a stabilized scene is worth sending to the
// narration generator.
package gate

import (
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/scene"
)

// Reason explains a dispatch decision. It is logged and surfaced in events
// so suppression can be told apart from failure.
type Reason string

// Decision reasons.
const (
	ReasonEmpty     Reason = "empty"     // nothing stable to describe
	ReasonUnchanged Reason = "unchanged" // same scene, refresh interval not reached
	ReasonRefresh   Reason = "refresh"   // same scene, refresh interval elapsed
	ReasonChanged   Reason = "changed"   // scene differs from the last dispatch
	ReasonUrgent    Reason = "urgent"    // urgent override
)

// Input is the state the gate evaluates.
type Input struct {
	Key           scene.Key
	LastKey       scene.Key
	HasLast       bool // false until the first dispatch
	Now           time.Time
	LastDispatch  time.Time
	ForceInterval time.Duration // 0 disables periodic refresh
	Urgent        bool
}

// Decision is the outcome of ShouldDispatch.
type Decision struct {
	Dispatch bool
	Reason   Reason
}

// ShouldDispatch applies the scene-change policy:
//   - an empty key never dispatches
//   - an unchanged, non-urgent key dispatches only once the force interval
//     (when enabled) has elapsed since the last dispatch
//   - anything else dispatches
func ShouldDispatch(in Input) Decision {
	if in.Key.Empty() {
		return Decision{Reason: ReasonEmpty}
	}
	if in.HasLast && in.Key == in.LastKey && !in.Urgent {
		if in.ForceInterval > 0 && in.Now.Sub(in.LastDispatch) >= in.ForceInterval {
			return Decision{Dispatch: true, Reason: ReasonRefresh}
		}
		return Decision{Reason: ReasonUnchanged}
	}
	if in.Urgent {
		return Decision{Dispatch: true, Reason: ReasonUrgent}
	}
	return Decision{Dispatch: true, Reason: ReasonChanged}
}

// Tracker remembers the last dispatched key and time and applies
// ShouldDispatch against them. It is not safe for concurrent use.
type Tracker struct {
	ForceInterval time.Duration

	lastKey      scene.Key
	lastDispatch time.Time
	hasLast      bool
}

// NewTracker creates a tracker with the given refresh interval.
func NewTracker(forceInterval time.Duration) *Tracker {
	return &Tracker{ForceInterval: forceInterval}
}

// Evaluate decides for key at now and records the dispatch when it happens.
func (t *Tracker) Evaluate(key scene.Key, now time.Time, urgent bool) Decision {
	d := ShouldDispatch(Input{
		Key:           key,
		LastKey:       t.lastKey,
		HasLast:       t.hasLast,
		Now:           now,
		LastDispatch:  t.lastDispatch,
		ForceInterval: t.ForceInterval,
		Urgent:        urgent,
	})
	if d.Dispatch {
		t.lastKey = key
		t.lastDispatch = now
		t.hasLast = true
	}
	return d
}

// LastKey returns the most recently dispatched key.
func (t *Tracker) LastKey() (scene.Key, bool) {
	return t.lastKey, t.hasLast
}
