package gate

import (
	"testing"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/scene"
)

func key(labels ...string) scene.Key { return scene.KeyOf(scene.NewLabelSet(labels...)) }

func TestShouldDispatch(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   Input
		want Decision
	}{
		{
			name: "empty key",
			in:   Input{Key: key(), Now: t0, Urgent: true},
			want: Decision{Reason: ReasonEmpty},
		},
		{
			name: "first key",
			in:   Input{Key: key("person"), Now: t0},
			want: Decision{Dispatch: true, Reason: ReasonChanged},
		},
		{
			name: "changed key",
			in:   Input{Key: key("car"), LastKey: key("person"), HasLast: true, Now: t0, LastDispatch: t0},
			want: Decision{Dispatch: true, Reason: ReasonChanged},
		},
		{
			name: "unchanged, no refresh",
			in:   Input{Key: key("person"), LastKey: key("person"), HasLast: true, Now: t0.Add(time.Hour), LastDispatch: t0},
			want: Decision{Reason: ReasonUnchanged},
		},
		{
			name: "unchanged, refresh not reached",
			in: Input{Key: key("person"), LastKey: key("person"), HasLast: true,
				Now: t0.Add(9 * time.Second), LastDispatch: t0, ForceInterval: 10 * time.Second},
			want: Decision{Reason: ReasonUnchanged},
		},
		{
			name: "unchanged, refresh reached exactly",
			in: Input{Key: key("person"), LastKey: key("person"), HasLast: true,
				Now: t0.Add(10 * time.Second), LastDispatch: t0, ForceInterval: 10 * time.Second},
			want: Decision{Dispatch: true, Reason: ReasonRefresh},
		},
		{
			name: "unchanged but urgent",
			in:   Input{Key: key("person"), LastKey: key("person"), HasLast: true, Now: t0, LastDispatch: t0, Urgent: true},
			want: Decision{Dispatch: true, Reason: ReasonUrgent},
		},
		{
			name: "changed and urgent",
			in:   Input{Key: key("car"), LastKey: key("person"), HasLast: true, Now: t0, Urgent: true},
			want: Decision{Dispatch: true, Reason: ReasonUrgent},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldDispatch(tt.in); got != tt.want {
				t.Errorf("ShouldDispatch() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTrackerSuppressesUnchangedScene(t *testing.T) {
	tr := NewTracker(0)
	now := time.Now()

	if d := tr.Evaluate(key("person"), now, false); !d.Dispatch {
		t.Fatal("first scene should dispatch")
	}
	if d := tr.Evaluate(key("person"), now.Add(time.Second), false); d.Dispatch {
		t.Fatal("unchanged scene should be suppressed")
	}
	if d := tr.Evaluate(key("car"), now.Add(2*time.Second), false); !d.Dispatch {
		t.Fatal("changed scene should dispatch")
	}
	if k, ok := tr.LastKey(); !ok || k != key("car") {
		t.Fatalf("LastKey() = %q, %v", k, ok)
	}
}

func TestTrackerRefreshInterval(t *testing.T) {
	tr := NewTracker(5 * time.Second)
	t0 := time.Now()

	tr.Evaluate(key("bench"), t0, false)
	if d := tr.Evaluate(key("bench"), t0.Add(4*time.Second), false); d.Dispatch {
		t.Fatal("refresh fired early")
	}
	if d := tr.Evaluate(key("bench"), t0.Add(5*time.Second), false); d.Reason != ReasonRefresh {
		t.Fatalf("reason = %q, want refresh", d.Reason)
	}
	// Refresh restarts the interval.
	if d := tr.Evaluate(key("bench"), t0.Add(6*time.Second), false); d.Dispatch {
		t.Fatal("refresh should restart the interval")
	}
}

func TestTrackerEmptyKeyDoesNotReset(t *testing.T) {
	tr := NewTracker(0)
	now := time.Now()
	tr.Evaluate(key("person"), now, false)
	tr.Evaluate(key(), now, false)
	if d := tr.Evaluate(key("person"), now, false); d.Dispatch {
		t.Fatal("an empty frame in between should not re-arm the same scene")
	}
}
