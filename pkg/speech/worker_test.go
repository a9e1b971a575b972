package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/log"
	"github.com/teslashibe/go-wayfinder/pkg/narration"
	"github.com/teslashibe/go-wayfinder/pkg/scene"
	"github.com/teslashibe/go-wayfinder/pkg/tts"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func push(t *testing.T, q *narration.Queue, texts ...string) {
	t.Helper()
	for _, text := range texts {
		if !q.TryPush(narration.NewRecord(text, scene.KeyOf(scene.NewLabelSet(text)), false, time.Now())) {
			t.Fatalf("push %q rejected", text)
		}
	}
}

// runUntilDrained runs the worker until the sentinel and fails if it hangs.
func runUntilDrained(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestWorkerCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	q := narration.NewQueue(3)
	sink := &MockSink{}
	w := NewWorker(q, sink, Config{Cooldown: 4 * time.Second, PollInterval: 10 * time.Millisecond},
		WithClock(clock.Now), WithLogger(log.Discard()))

	push(t, q, "A person is ahead.", "A car is on your left.")
	q.Shutdown()
	runUntilDrained(t, w)

	if got := sink.Spoken(); len(got) != 1 || got[0] != "A person is ahead." {
		t.Fatalf("spoken = %v", got)
	}
	if st := w.Stats(); st.Spoken != 1 || st.Cooldown != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestWorkerSkipsSimilarText(t *testing.T) {
	q := narration.NewQueue(3)
	sink := &MockSink{}
	w := NewWorker(q, sink, Config{PollInterval: 10 * time.Millisecond}, WithLogger(log.Discard()))

	push(t, q, "A car is near", "a car is near!!", "A person is far")
	q.Shutdown()
	runUntilDrained(t, w)

	got := sink.Spoken()
	if len(got) != 2 || got[1] != "A person is far" {
		t.Fatalf("spoken = %v", got)
	}
	if w.Stats().Duplicate != 1 {
		t.Errorf("duplicate = %d", w.Stats().Duplicate)
	}
}

func TestWorkerContinuesAfterSinkError(t *testing.T) {
	q := narration.NewQueue(2)
	calls := 0
	sink := &MockSink{
		SpeakFunc: func(context.Context, string) error {
			calls++
			if calls == 1 {
				return errors.New("speaker unplugged")
			}
			return nil
		},
	}

	var outcomes []Outcome
	w := NewWorker(q, sink, Config{PollInterval: 10 * time.Millisecond},
		WithLogger(log.Discard()),
		WithObserver(func(_ narration.Record, o Outcome, _ error) { outcomes = append(outcomes, o) }))

	push(t, q, "first", "second")
	q.Shutdown()
	runUntilDrained(t, w)

	if len(outcomes) != 2 || outcomes[0] != OutcomeFailed || outcomes[1] != OutcomeSpoken {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

// A failed utterance still starts the cooldown.
func TestWorkerFailureStartsCooldown(t *testing.T) {
	q := narration.NewQueue(3)
	fail := true
	sink := &MockSink{SpeakFunc: func(context.Context, string) error {
		if fail {
			fail = false
			return errors.New("boom")
		}
		return nil
	}}
	w := NewWorker(q, sink, Config{Cooldown: time.Hour, PollInterval: 10 * time.Millisecond}, WithLogger(log.Discard()))

	push(t, q, "watch out", "door on your left", "stairs ahead")
	q.Shutdown()
	runUntilDrained(t, w)

	if n := len(sink.Spoken()); n != 1 {
		t.Fatalf("sink called %d times within cooldown, want 1", n)
	}
	if st := w.Stats(); st.Failed != 1 || st.Spoken != 0 || st.Cooldown != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if st := w.state; st.LastText != "watch out" || st.LastSpokenAt.IsZero() {
		t.Fatalf("state = %+v", st)
	}
}

func TestWorkerSerializesUtterances(t *testing.T) {
	q := narration.NewQueue(5)
	var inFlight, maxInFlight atomic.Int32
	sink := &MockSink{SpeakFunc: func(context.Context, string) error {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}}
	w := NewWorker(q, sink, Config{PollInterval: 10 * time.Millisecond}, WithLogger(log.Discard()))

	push(t, q, "one bench", "two cars", "three dogs", "four chairs", "five people")
	q.Shutdown()
	runUntilDrained(t, w)

	if maxInFlight.Load() != 1 {
		t.Fatalf("max concurrent utterances = %d", maxInFlight.Load())
	}
	if len(sink.Spoken()) != 5 {
		t.Fatalf("spoken = %v", sink.Spoken())
	}
}

func TestWorkerSpeakTimeout(t *testing.T) {
	q := narration.NewQueue(1)
	sink := &MockSink{SpeakFunc: func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	w := NewWorker(q, sink, Config{PollInterval: 10 * time.Millisecond, SpeakTimeout: 20 * time.Millisecond},
		WithLogger(log.Discard()))

	push(t, q, "hello")
	q.Shutdown()
	runUntilDrained(t, w)

	if w.Stats().Failed != 1 {
		t.Fatalf("stats = %+v", w.Stats())
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	q := narration.NewQueue(1)
	w := NewWorker(q, &MockSink{}, Config{PollInterval: 10 * time.Millisecond}, WithLogger(log.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestTTSSink(t *testing.T) {
	provider := tts.NewMock()
	player := &recordingPlayer{}
	sink := NewTTSSink(provider, player)

	if err := sink.Speak(context.Background(), "Stop."); err != nil {
		t.Fatal(err)
	}
	if provider.CallCount("Synthesize") != 1 || player.plays != 1 {
		t.Errorf("synth=%d plays=%d", provider.CallCount("Synthesize"), player.plays)
	}

	failing := NewTTSSink(tts.WithError(errors.New("quota")), player)
	if err := failing.Speak(context.Background(), "Stop."); err == nil {
		t.Fatal("expected error")
	}
	if player.plays != 1 {
		t.Error("player should not run when synthesis fails")
	}
}

type recordingPlayer struct{ plays int }

func (p *recordingPlayer) Play(context.Context, *tts.AudioResult) error {
	p.plays++
	return nil
}
