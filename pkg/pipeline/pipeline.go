// Package pipeline runs the frame-to-narration loop.
//
// Three goroutines do the work:
//
//   - the sampler reads the source and offers every Nth frame to the
//     analysis slot, dropping it when the slot is busy
//   - the analysis goroutine detects, stabilizes, gates and generates for one
//     frame at a time and reports each cycle on a completion channel
//   - the speech worker drains the narration queue into the sink
//
// A single consumer of the completion channel applies the narration dedup
// gate, so every cycle reaches the queue through the same code path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/ani"
	"github.com/teslashibe/go-wayfinder/pkg/describe"
	"github.com/teslashibe/go-wayfinder/pkg/detection"
	"github.com/teslashibe/go-wayfinder/pkg/gate"
	"github.com/teslashibe/go-wayfinder/pkg/narration"
	"github.com/teslashibe/go-wayfinder/pkg/scene"
	"github.com/teslashibe/go-wayfinder/pkg/source"
	"github.com/teslashibe/go-wayfinder/pkg/speech"
	"github.com/teslashibe/go-wayfinder/pkg/stabilizer"
)

// ErrAlreadyStarted is returned by every Run after the first. The queue and
// source are consumed by one run; build a new Pipeline to start again.
var ErrAlreadyStarted = errors.New("pipeline: already started")

// Deps are the collaborators the pipeline drives.
type Deps struct {
	Source    source.Source
	Detector  detection.Detector
	Generator describe.Generator
	Sink      speech.Sink
}

func (d Deps) validate() error {
	var missing []string
	if d.Source == nil {
		missing = append(missing, "source")
	}
	if d.Detector == nil {
		missing = append(missing, "detector")
	}
	if d.Generator == nil {
		missing = append(missing, "generator")
	}
	if d.Sink == nil {
		missing = append(missing, "sink")
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// completion is the single message every analysis cycle ends with.
type completion struct {
	seq    uint64
	record *narration.Record // nil when the cycle produced nothing
}

// Pipeline wires a source, a detector, a generator and a speech sink.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	// owned by the analysis goroutine
	stab    *stabilizer.Stabilizer
	tracker *gate.Tracker
	ani     *ani.Engine

	queue  *narration.Queue
	dedup  *narration.Gate
	worker *speech.Worker

	observers observers
	stats     counters

	busy      atomic.Bool  // analysis slot taken
	inFlight  atomic.Int32 // active analyses, never above 1
	started   atomic.Bool
	running   atomic.Bool
	stopping  atomic.Bool
	startedAt atomic.Int64
}

// New creates a pipeline. Options are applied on top of cfg.
func New(cfg Config, deps Deps, opts ...Option) (*Pipeline, error) {
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	p := &Pipeline{
		cfg:     cfg,
		deps:    deps,
		logger:  cfg.Logger.With("component", "pipeline"),
		now:     now,
		stab:    stabilizer.New(cfg.WindowSize, cfg.MinHits),
		tracker: gate.NewTracker(cfg.ForceInterval),
		queue:   narration.NewQueue(cfg.QueueCapacity),
	}
	if cfg.Anticipation {
		aniCfg := ani.DefaultConfig()
		aniCfg.Logger = cfg.Logger
		p.ani = ani.New(aniCfg)
	}
	p.dedup = narration.NewGate(p.queue, cfg.Cooldown,
		narration.WithClock(now),
		narration.WithLogger(cfg.Logger))
	p.worker = speech.NewWorker(p.queue, deps.Sink, speech.Config{
		Cooldown:     cfg.Cooldown,
		PollInterval: cfg.PollInterval,
		SpeakTimeout: cfg.SpeakTimeout,
	},
		speech.WithClock(now),
		speech.WithLogger(cfg.Logger),
		speech.WithObserver(p.onSpeech))
	return p, nil
}

// Observe registers an event observer. It may be called before or during
// Run.
func (p *Pipeline) Observe(fn Observer) {
	p.observers.add(fn)
}

func (p *Pipeline) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = p.now()
	}
	p.observers.emit(e)
}

// Run processes frames until the source ends or ctx is cancelled. A
// Pipeline runs once.
//
// When the source returns io.EOF the frame in analysis is allowed to finish
// and queued narrations are spoken. On cancellation in-flight analysis is
// abandoned. In both cases the speech worker gets the shutdown sentinel and
// is waited for at most ShutdownTimeout. Source errors other than io.EOF
// are returned after the same shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	p.running.Store(true)
	defer p.running.Store(false)
	p.startedAt.Store(p.now().UnixNano())

	p.logger.Info("pipeline started",
		"stride", p.cfg.SampleStride,
		"window", p.cfg.WindowSize,
		"min_hits", p.cfg.MinHits,
		"cooldown", p.cfg.Cooldown,
		"generator", p.deps.Generator.Name())

	analysisCtx, abandon := context.WithCancel(ctx)
	defer abandon()
	speechCtx, stopSpeech := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSpeech()

	speechDone := make(chan error, 1)
	go func() { speechDone <- p.worker.Run(speechCtx) }()

	work := make(chan source.Frame, 1)
	completions := make(chan completion, 1)
	analysisDone := make(chan struct{})
	consumerDone := make(chan struct{})
	go p.analyseLoop(analysisCtx, work, completions, analysisDone)
	go p.consume(completions, consumerDone)

	drain, runErr := p.sample(ctx, work)
	close(work)

	if drain {
		select {
		case <-analysisDone:
			<-consumerDone
		case <-ctx.Done():
		}
	}
	abandon()
	p.stopping.Store(true)

	if !p.queue.Shutdown() {
		p.logger.Warn("shutdown sentinel not queued")
	}
	timer := time.NewTimer(p.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-speechDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("speech worker stopped with error", "error", err)
		}
	case <-timer.C:
		p.logger.Warn("speech worker did not stop in time", "timeout", p.cfg.ShutdownTimeout)
		stopSpeech()
	}

	st := p.Stats()
	p.logger.Info("pipeline stopped",
		"frames", st.FramesRead,
		"analysed", st.Analyses,
		"dispatched", st.Dispatched,
		"spoken", st.Speech.Spoken)
	p.emit(Event{Type: EventStopped})
	return runErr
}

// sample reads the source until it ends. drain reports a clean end of
// stream.
func (p *Pipeline) sample(ctx context.Context, work chan<- source.Frame) (drain bool, err error) {
	stride := uint64(p.cfg.SampleStride)
	var n uint64
	for {
		f, err := p.deps.Source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				p.logger.Info("source ended")
				return true, nil
			case ctx.Err() != nil, errors.Is(err, source.ErrClosed):
				return false, nil
			default:
				p.logger.Error("source failed", "error", err)
				return false, fmt.Errorf("pipeline: source: %w", err)
			}
		}

		n++
		p.stats.framesRead.Add(1)
		if n%stride != 0 {
			continue
		}
		p.stats.framesSampled.Add(1)

		if !p.busy.CompareAndSwap(false, true) {
			p.stats.framesBusy.Add(1)
			continue
		}
		// The slot was free, so the buffer is empty and this never blocks.
		work <- f
	}
}

func (p *Pipeline) analyseLoop(ctx context.Context, work <-chan source.Frame, out chan<- completion, done chan<- struct{}) {
	defer close(done)
	defer close(out)
	for f := range work {
		if ctx.Err() != nil {
			p.busy.Store(false)
			continue
		}
		if n := p.inFlight.Add(1); n != 1 {
			panic(fmt.Sprintf("pipeline: %d analyses in flight", n))
		}
		c := p.analyse(ctx, f)
		p.inFlight.Add(-1)
		p.busy.Store(false)
		out <- c
	}
}

// analyse runs one cycle: detect, stabilize, gate and generate.
func (p *Pipeline) analyse(ctx context.Context, f source.Frame) completion {
	c := completion{seq: f.Seq}
	p.stats.analyses.Add(1)

	dets, err := p.deps.Detector.Detect(ctx, f)
	if err != nil {
		if ctx.Err() != nil {
			return c
		}
		p.stats.detectErrors.Add(1)
		p.logger.Warn("detection failed", "seq", f.Seq, "error", err)
		p.emit(Event{Type: EventFailed, Seq: f.Seq, Stage: StageDetect, Error: err.Error()})
		return c
	}

	stable := p.stab.Observe(scene.Labels(dets))
	kept := scene.Filter(dets, stable)
	key := scene.KeyOf(stable)
	urgent := scene.UrgentOverride(kept)
	now := p.now()

	var assessments []ani.Assessment
	if p.ani != nil {
		assessments = p.ani.Process(kept, now)
	}

	d := p.tracker.Evaluate(key, now, urgent)
	if !d.Dispatch {
		p.stats.countSkip(d.Reason)
		p.logger.Debug("scene not dispatched", "seq", f.Seq, "reason", d.Reason, "key", key.String())
		p.emit(Event{Type: EventSkipped, Seq: f.Seq, Key: key.String(), Reason: string(d.Reason)})
		return c
	}
	p.stats.dispatched.Add(1)
	p.emit(Event{
		Type:   EventDispatched,
		Seq:    f.Seq,
		Key:    key.String(),
		Labels: key.Labels(),
		Reason: string(d.Reason),
		Urgent: urgent,
	})

	genCtx := ctx
	if p.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, p.cfg.GenerateTimeout)
		defer cancel()
	}
	text, err := p.deps.Generator.Describe(genCtx, describe.Request{
		Detections:  kept,
		Assessments: assessments,
		Urgent:      urgent,
	})
	if err != nil {
		if ctx.Err() != nil {
			return c
		}
		p.stats.generateErrors.Add(1)
		p.logger.Warn("narration generation failed", "seq", f.Seq, "generator", p.deps.Generator.Name(), "error", err)
		p.emit(Event{Type: EventFailed, Seq: f.Seq, Stage: StageGenerate, Key: key.String(), Error: err.Error()})
		return c
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.stats.emptyNarrations.Add(1)
		p.logger.Debug("generator returned no narration", "seq", f.Seq, "key", key.String())
		return c
	}

	rec := narration.NewRecord(text, key, urgent, p.now())
	c.record = &rec
	return c
}

// consume is the only caller of the dedup gate.
func (p *Pipeline) consume(in <-chan completion, done chan<- struct{}) {
	defer close(done)
	for c := range in {
		if c.record != nil && !p.stopping.Load() {
			p.offer(*c.record, c.seq)
		}
		p.emit(Event{Type: EventCycleDone, Seq: c.seq})
	}
}

func (p *Pipeline) offer(rec narration.Record, seq uint64) {
	v := p.dedup.TryEnqueue(rec)
	e := Event{
		Seq:      seq,
		Key:      rec.Key.String(),
		RecordID: rec.ID,
		Text:     rec.Text,
		Urgent:   rec.Urgent,
	}
	switch v {
	case narration.VerdictEnqueued:
		p.stats.enqueued.Add(1)
		e.Type = EventEnqueued
	case narration.VerdictCooldown:
		p.stats.suppressedCooldown.Add(1)
		e.Type, e.Reason = EventSuppressed, string(v)
	case narration.VerdictDuplicate:
		p.stats.suppressedDuplicate.Add(1)
		e.Type, e.Reason = EventSuppressed, string(v)
	case narration.VerdictQueueFull:
		p.stats.droppedQueueFull.Add(1)
		e.Type, e.Reason = EventSuppressed, string(v)
	default:
		return
	}
	p.emit(e)
}

func (p *Pipeline) onSpeech(rec narration.Record, o speech.Outcome, err error) {
	e := Event{
		Key:      rec.Key.String(),
		RecordID: rec.ID,
		Text:     rec.Text,
		Urgent:   rec.Urgent,
	}
	switch o {
	case speech.OutcomeSpoken:
		e.Type = EventSpoken
	case speech.OutcomeFailed:
		e.Type, e.Stage = EventFailed, StageSpeak
		if err != nil {
			e.Error = err.Error()
		}
	default:
		e.Type, e.Reason = EventSuppressed, string(o)
	}
	p.emit(e)
}

// Running reports whether Run is active.
func (p *Pipeline) Running() bool { return p.running.Load() }

// QueueLen returns the number of narrations waiting to be spoken.
func (p *Pipeline) QueueLen() int { return p.queue.Len() }
