package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/log"
	"github.com/teslashibe/go-wayfinder/pkg/describe"
	"github.com/teslashibe/go-wayfinder/pkg/detection"
	"github.com/teslashibe/go-wayfinder/pkg/scene"
	"github.com/teslashibe/go-wayfinder/pkg/source"
	"github.com/teslashibe/go-wayfinder/pkg/speech"
)

// chanSource hands out frames the test pushes, and io.EOF once closed.
type chanSource struct {
	ch chan source.Frame
}

func newChanSource() *chanSource { return &chanSource{ch: make(chan source.Frame)} }

func (s *chanSource) Next(ctx context.Context) (source.Frame, error) {
	select {
	case f, ok := <-s.ch:
		if !ok {
			return source.Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return source.Frame{}, ctx.Err()
	}
}

func (s *chanSource) Close() error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness runs a pipeline over a chanSource and records its events.
type harness struct {
	t      *testing.T
	src    *chanSource
	p      *Pipeline
	cycles chan uint64
	runErr chan error
	cancel context.CancelFunc

	mu     sync.Mutex
	events []Event
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleStride = 1
	cfg.WindowSize = 1
	cfg.MinHits = 1
	cfg.Cooldown = 0
	cfg.ForceInterval = 0
	cfg.Anticipation = false
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Logger = log.Discard()
	return cfg
}

func start(t *testing.T, cfg Config, det detection.Detector, gen describe.Generator, sink speech.Sink) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		src:    newChanSource(),
		cycles: make(chan uint64, 128),
		runErr: make(chan error, 1),
	}
	p, err := New(cfg, Deps{Source: h.src, Detector: det, Generator: gen, Sink: sink})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.p = p
	p.Observe(func(e Event) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
		if e.Type == EventCycleDone {
			h.cycles <- e.Seq
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.runErr <- p.Run(ctx) }()
	return h
}

func (h *harness) feed(seq uint64) {
	h.t.Helper()
	select {
	case h.src.ch <- source.Frame{Seq: seq, Width: 640, Height: 480}:
	case <-time.After(2 * time.Second):
		h.t.Fatalf("frame %d not consumed", seq)
	}
}

func (h *harness) waitCycle(seq uint64) {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-h.cycles:
			if got == seq {
				return
			}
		case <-timeout:
			h.t.Fatalf("cycle %d did not complete", seq)
		}
	}
}

// step feeds one frame and waits until its cycle is fully handled.
func (h *harness) step(seq uint64) {
	h.t.Helper()
	h.feed(seq)
	h.waitCycle(seq)
}

// finish ends the stream and waits for Run.
func (h *harness) finish() error {
	h.t.Helper()
	close(h.src.ch)
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("Run did not return")
		return nil
	}
}

func (h *harness) eventsOf(typ EventType) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, e := range h.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestScenarioSceneChange(t *testing.T) {
	det := detection.NewMock(
		detection.Labels("person"),
		detection.Labels("person"),
		detection.Labels("car"),
	)
	gen := describe.NewMock()
	sink := &speech.MockSink{}

	h := start(t, testConfig(), det, gen, sink)
	for seq := uint64(1); seq <= 3; seq++ {
		h.step(seq)
	}
	if err := h.finish(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if gen.CallCount() != 2 {
		t.Fatalf("generator calls = %d, want 2", gen.CallCount())
	}
	calls := gen.Calls()
	if calls[0].Request.Detections[0].Label != "person" || calls[1].Request.Detections[0].Label != "car" {
		t.Errorf("generator saw %v then %v", calls[0].Request.Detections, calls[1].Request.Detections)
	}

	st := h.p.Stats()
	if st.Dispatched != 2 || st.SkippedUnchanged != 1 {
		t.Errorf("stats = dispatched %d unchanged %d, want 2 and 1", st.Dispatched, st.SkippedUnchanged)
	}
	skipped := h.eventsOf(EventSkipped)
	if len(skipped) != 1 || skipped[0].Seq != 2 || skipped[0].Reason != "unchanged" {
		t.Errorf("skipped events = %+v", skipped)
	}
	if got := len(sink.Spoken()); got != 2 {
		t.Errorf("spoken = %d, want 2", got)
	}
}

func TestScenarioRepeatedNarration(t *testing.T) {
	const text = "Person ahead, move right."

	tests := []struct {
		name         string
		cooldown     time.Duration
		force        time.Duration
		advance      time.Duration
		wantCooldown uint64
		wantDup      uint64
	}{
		{
			name:         "within cooldown",
			cooldown:     10 * time.Second,
			force:        time.Second,
			advance:      2 * time.Second,
			wantCooldown: 1,
		},
		{
			name:    "same key similar text",
			force:   time.Second,
			advance: 2 * time.Second,
			wantDup: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			cfg := testConfig()
			cfg.Cooldown = tt.cooldown
			cfg.ForceInterval = tt.force
			cfg.Clock = clock.Now

			det := detection.NewMock(detection.Labels("person"))
			gen := describe.NewStaticMock(text)
			sink := &speech.MockSink{}

			h := start(t, cfg, det, gen, sink)
			h.step(1)
			clock.Advance(tt.advance)
			h.step(2)
			if err := h.finish(); err != nil {
				t.Fatal(err)
			}

			if gen.CallCount() != 2 {
				t.Fatalf("generator calls = %d, want 2", gen.CallCount())
			}
			spoken := sink.Spoken()
			if len(spoken) != 1 || spoken[0] != text {
				t.Errorf("spoken = %q, want one %q", spoken, text)
			}
			st := h.p.Stats()
			if st.SuppressedCooldown != tt.wantCooldown || st.SuppressedDuplicate != tt.wantDup {
				t.Errorf("suppressed cooldown=%d duplicate=%d, want %d and %d",
					st.SuppressedCooldown, st.SuppressedDuplicate, tt.wantCooldown, tt.wantDup)
			}
		})
	}
}

func TestScenarioQueueFull(t *testing.T) {
	texts := map[string]string{
		"person": "Person ahead.",
		"car":    "Car on your left, wait.",
		"dog":    "A dog is nearby.",
		"bus":    "Bus approaching from the right.",
	}
	det := detection.NewMock(
		detection.Labels("person"),
		detection.Labels("car"),
		detection.Labels("dog"),
		detection.Labels("bus"),
	)
	gen := &describe.Mock{DescribeFunc: func(_ context.Context, req describe.Request) (string, error) {
		return texts[req.Detections[0].Label], nil
	}}

	started := make(chan struct{}, 8)
	release := make(chan struct{})
	sink := &speech.MockSink{SpeakFunc: func(ctx context.Context, _ string) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}

	cfg := testConfig()
	cfg.QueueCapacity = 2
	h := start(t, cfg, det, gen, sink)

	// The worker takes the first record and holds it inside Speak.
	h.step(1)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("speech did not start")
	}

	// Three more records arrive while the sink is busy: two fill the queue,
	// the next one is dropped without blocking the cycle.
	begin := time.Now()
	h.step(2)
	h.step(3)
	h.step(4)
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Errorf("producer stalled for %v", elapsed)
	}

	st := h.p.Stats()
	if st.Enqueued != 3 || st.DroppedQueueFull != 1 {
		t.Errorf("enqueued=%d dropped=%d, want 3 and 1", st.Enqueued, st.DroppedQueueFull)
	}
	if st.QueueLength != 2 {
		t.Errorf("queue length = %d, want 2", st.QueueLength)
	}
	dropped := h.eventsOf(EventSuppressed)
	if len(dropped) != 1 || dropped[0].Reason != "queue_full" || dropped[0].Text != texts["bus"] {
		t.Errorf("suppressed events = %+v", dropped)
	}

	close(release)
	if err := h.finish(); err != nil {
		t.Fatal(err)
	}
	want := []string{texts["person"], texts["car"], texts["dog"]}
	if got := sink.Spoken(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("spoken = %q, want %q", got, want)
	}
}

func TestAtMostOneAnalysisInFlight(t *testing.T) {
	var active, maxActive atomic.Int32
	det := &detection.Mock{DetectFunc: func(ctx context.Context, f source.Frame) ([]scene.Detection, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return detection.Labels(fmt.Sprintf("object %d", f.Seq)), nil
	}}

	frames := make([]source.Frame, 200)
	p, err := New(testConfig(), Deps{
		Source:    source.NewSlice(frames...),
		Detector:  det,
		Generator: describe.NewStaticMock(""),
		Sink:      &speech.MockSink{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := maxActive.Load(); got != 1 {
		t.Errorf("max concurrent detections = %d, want 1", got)
	}
	st := p.Stats()
	if st.FramesRead != 200 {
		t.Errorf("frames read = %d, want 200", st.FramesRead)
	}
	if st.Analyses+st.FramesDroppedBusy != st.FramesSampled {
		t.Errorf("analyses %d + busy drops %d != sampled %d", st.Analyses, st.FramesDroppedBusy, st.FramesSampled)
	}
	if st.FramesDroppedBusy == 0 {
		t.Error("expected frames dropped while the slot was busy")
	}
	if st.EmptyNarrations != st.Dispatched {
		t.Errorf("empty narrations = %d, dispatched = %d", st.EmptyNarrations, st.Dispatched)
	}
}

func TestSamplingStride(t *testing.T) {
	det := detection.NewMock(detection.Labels("person"))
	cfg := testConfig()
	cfg.SampleStride = 5
	h := start(t, cfg, det, describe.NewMock(), &speech.MockSink{})

	for seq := uint64(1); seq <= 20; seq++ {
		h.feed(seq)
		if seq%5 == 0 {
			h.waitCycle(seq)
		}
	}
	if err := h.finish(); err != nil {
		t.Fatal(err)
	}

	want := []uint64{5, 10, 15, 20}
	got := det.Calls()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("analysed frames = %v, want %v", got, want)
	}
	st := h.p.Stats()
	if st.FramesRead != 20 || st.FramesSampled != 4 || st.FramesDroppedBusy != 0 {
		t.Errorf("stats = read %d sampled %d busy %d", st.FramesRead, st.FramesSampled, st.FramesDroppedBusy)
	}
}

func TestUrgentBypassesUnchangedScene(t *testing.T) {
	det := detection.NewMock(
		[]scene.Detection{{Label: "person", Confidence: 0.9, Distance: scene.DistanceFar}},
		[]scene.Detection{{Label: "person", Confidence: 0.9, Distance: scene.DistanceVeryClose}},
	)
	gen := describe.NewMock()
	h := start(t, testConfig(), det, gen, &speech.MockSink{})
	h.step(1)
	h.step(2)
	if err := h.finish(); err != nil {
		t.Fatal(err)
	}

	calls := gen.Calls()
	if len(calls) != 2 {
		t.Fatalf("generator calls = %d, want 2", len(calls))
	}
	if calls[0].Request.Urgent || !calls[1].Request.Urgent {
		t.Errorf("urgent flags = %v, %v", calls[0].Request.Urgent, calls[1].Request.Urgent)
	}
	dispatched := h.eventsOf(EventDispatched)
	if len(dispatched) != 2 || dispatched[1].Reason != "urgent" {
		t.Errorf("dispatched events = %+v", dispatched)
	}
}

func TestUnchangedSceneNotRegenerated(t *testing.T) {
	det := detection.NewMock(detection.Labels("car", "person"), detection.Labels("person", "car"))
	gen := describe.NewMock()
	h := start(t, testConfig(), det, gen, &speech.MockSink{})
	h.step(1)
	h.step(2)
	h.finish()

	if gen.CallCount() != 1 {
		t.Errorf("generator calls = %d, want 1", gen.CallCount())
	}
}

func TestFailuresDowngradeToSilence(t *testing.T) {
	t.Run("generator", func(t *testing.T) {
		det := detection.NewMock(detection.Labels("person"), detection.Labels("car"))
		gen := describe.NewErrorMock(errors.New("quota exceeded"))
		sink := &speech.MockSink{}
		h := start(t, testConfig(), det, gen, sink)
		h.step(1)
		h.step(2)
		if err := h.finish(); err != nil {
			t.Fatal(err)
		}

		st := h.p.Stats()
		if st.Analyses != 2 || st.GenerateErrors != 2 || st.Enqueued != 0 {
			t.Errorf("stats = %+v", st)
		}
		failed := h.eventsOf(EventFailed)
		if len(failed) != 2 || failed[0].Stage != StageGenerate {
			t.Errorf("failed events = %+v", failed)
		}
		if len(sink.Spoken()) != 0 {
			t.Error("nothing should be spoken")
		}
	})

	t.Run("detector", func(t *testing.T) {
		det := detection.NewMock().WithError(errors.New("camera glitch"))
		gen := describe.NewMock()
		h := start(t, testConfig(), det, gen, &speech.MockSink{})
		h.step(1)
		h.step(2)
		if err := h.finish(); err != nil {
			t.Fatal(err)
		}
		if st := h.p.Stats(); st.DetectErrors != 2 || gen.CallCount() != 0 {
			t.Errorf("detect errors = %d, generator calls = %d", st.DetectErrors, gen.CallCount())
		}
	})

	t.Run("sink", func(t *testing.T) {
		det := detection.NewMock(detection.Labels("person"), detection.Labels("car"))
		var calls atomic.Int32
		sink := &speech.MockSink{SpeakFunc: func(context.Context, string) error {
			if calls.Add(1) == 1 {
				return errors.New("speaker unplugged")
			}
			return nil
		}}
		h := start(t, testConfig(), det, describe.NewMock(), sink)
		h.step(1)
		h.step(2)
		if err := h.finish(); err != nil {
			t.Fatal(err)
		}
		st := h.p.Stats()
		if st.Speech.Failed != 1 || st.Speech.Spoken != 1 {
			t.Errorf("speech stats = %+v", st.Speech)
		}
	})
}

func TestCancelAbandonsAnalysis(t *testing.T) {
	entered := make(chan struct{})
	det := &detection.Mock{DetectFunc: func(ctx context.Context, _ source.Frame) ([]scene.Detection, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h := start(t, testConfig(), det, describe.NewMock(), &speech.MockSink{})
	h.feed(1)
	<-entered

	h.cancel()
	select {
	case err := <-h.runErr:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if h.p.Running() {
		t.Error("pipeline still marked running")
	}
	if st := h.p.Stats(); st.DetectErrors != 0 {
		t.Errorf("abandoned analysis counted as error: %d", st.DetectErrors)
	}
}

func TestSourceErrorReturned(t *testing.T) {
	boom := errors.New("device lost")
	src := &errSource{err: boom}
	p, err := New(testConfig(), Deps{
		Source:    src,
		Detector:  detection.NewMock(),
		Generator: describe.NewMock(),
		Sink:      &speech.MockSink{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want %v", err, boom)
	}
}

func TestRunOnlyOnce(t *testing.T) {
	p, err := New(testConfig(), Deps{
		Source:    source.NewSlice(),
		Detector:  detection.NewMock(),
		Generator: describe.NewMock(),
		Sink:      &speech.MockSink{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrAlreadyStarted) {
			t.Errorf("second Run() error = %v, want ErrAlreadyStarted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Run did not return immediately")
	}
	if p.Running() {
		t.Error("pipeline marked running after refused Run")
	}
}

type errSource struct{ err error }

func (s *errSource) Next(context.Context) (source.Frame, error) { return source.Frame{}, s.err }
func (s *errSource) Close() error                              { return nil }

func TestNewValidates(t *testing.T) {
	full := Deps{
		Source:    source.NewSlice(),
		Detector:  detection.NewMock(),
		Generator: describe.NewMock(),
		Sink:      &speech.MockSink{},
	}

	tests := []struct {
		name    string
		deps    Deps
		opts    []Option
		wantErr string
	}{
		{"ok", full, nil, ""},
		{"missing sink", Deps{Source: full.Source, Detector: full.Detector, Generator: full.Generator}, nil, "missing sink"},
		{"zero stride", full, []Option{WithStride(0)}, "sample stride"},
		{"min hits above window", full, []Option{WithStabilizer(2, 3)}, "min hits"},
		{"zero queue", full, []Option{WithQueueCapacity(0)}, "queue capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(testConfig(), tt.deps, tt.opts...)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("New() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory(2, EventSpoken)
	h.Observe(Event{Type: EventSpoken, Text: "one"})
	h.Observe(Event{Type: EventSkipped})
	h.Observe(Event{Type: EventSpoken, Text: "two"})
	h.Observe(Event{Type: EventSpoken, Text: "three"})

	got := h.Recent()
	if len(got) != 2 || got[0].Text != "three" || got[1].Text != "two" {
		t.Errorf("Recent() = %+v", got)
	}

	empty := NewHistory(3)
	if len(empty.Recent()) != 0 {
		t.Error("new history should be empty")
	}
}
