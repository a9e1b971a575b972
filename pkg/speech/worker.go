// Package speech owns the speaker: a single worker drains the narration
// queue and speaks one utterance at a time, skipping anything that repeats
// the last utterance too soon.
package speech

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/narration"
	"github.com/teslashibe/go-wayfinder/pkg/similarity"
)

// Outcome is what the worker did with a record.
type Outcome string

// Outcomes.
const (
	OutcomeSpoken    Outcome = "spoken"
	OutcomeCooldown  Outcome = "speech_cooldown"
	OutcomeDuplicate Outcome = "speech_duplicate"
	OutcomeFailed    Outcome = "speech_failed"
)

// State is the worker's memory of the last utterance. Only the worker
// goroutine touches it.
type State struct {
	LastText     string
	LastSpokenAt time.Time
}

// Config controls the worker.
type Config struct {
	Cooldown     time.Duration
	PollInterval time.Duration
	SpeakTimeout time.Duration // 0 means no per-utterance bound
}

// DefaultConfig returns worker defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:     4 * time.Second,
		PollInterval: 250 * time.Millisecond,
		SpeakTimeout: 30 * time.Second,
	}
}

// Stats counts worker outcomes.
type Stats struct {
	Spoken    int64 `json:"spoken"`
	Cooldown  int64 `json:"cooldown"`
	Duplicate int64 `json:"duplicate"`
	Failed    int64 `json:"failed"`
}

// Observer is told about every record the worker handles.
type Observer func(rec narration.Record, outcome Outcome, err error)

// Worker drains a narration queue into a Sink.
type Worker struct {
	queue      *narration.Queue
	sink       Sink
	cfg        Config
	comparator similarity.Comparator
	now        func() time.Time
	logger     *slog.Logger
	observer   Observer

	state State

	spoken, cooldown, duplicate, failed atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithObserver registers a callback for every handled record. It runs on the
// worker goroutine and must not block.
func WithObserver(o Observer) Option {
	return func(w *Worker) { w.observer = o }
}

// WithComparator overrides the similarity thresholds.
func WithComparator(c similarity.Comparator) Option {
	return func(w *Worker) { w.comparator = c }
}

// NewWorker creates a worker. A zero PollInterval uses the default.
func NewWorker(q *narration.Queue, sink Sink, cfg Config, opts ...Option) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	w := &Worker{
		queue:      q,
		sink:       sink,
		cfg:        cfg,
		comparator: similarity.Default,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "speech.worker")
	return w
}

// Run speaks queued narrations until the shutdown sentinel is popped (nil
// error) or ctx is cancelled (ctx.Err()).
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("speech worker started")
	defer w.logger.Debug("speech worker stopped")

	for {
		item, ok := w.queue.Pop(ctx, w.cfg.PollInterval)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		if item.Shutdown {
			return nil
		}
		w.handle(ctx, item.Record)
	}
}

func (w *Worker) handle(ctx context.Context, rec narration.Record) {
	now := w.now()

	if !w.state.LastSpokenAt.IsZero() && now.Sub(w.state.LastSpokenAt) < w.cfg.Cooldown {
		w.cooldown.Add(1)
		w.logger.Debug("utterance skipped", "reason", OutcomeCooldown, "text", rec.Text)
		w.notify(rec, OutcomeCooldown, nil)
		return
	}
	if w.state.LastText != "" && w.comparator.Similar(rec.Text, w.state.LastText) {
		w.duplicate.Add(1)
		w.logger.Debug("utterance skipped", "reason", OutcomeDuplicate, "text", rec.Text)
		w.notify(rec, OutcomeDuplicate, nil)
		return
	}

	speakCtx := ctx
	if w.cfg.SpeakTimeout > 0 {
		var cancel context.CancelFunc
		speakCtx, cancel = context.WithTimeout(ctx, w.cfg.SpeakTimeout)
		defer cancel()
	}

	if err := w.sink.Speak(speakCtx, rec.Text); err != nil {
		w.state = State{LastText: rec.Text, LastSpokenAt: w.now()}
		w.failed.Add(1)
		w.logger.Warn("speak failed", "error", err, "text", rec.Text)
		w.notify(rec, OutcomeFailed, err)
		return
	}

	w.state = State{LastText: rec.Text, LastSpokenAt: w.now()}
	w.spoken.Add(1)
	w.logger.Info("narration spoken", "text", rec.Text, "key", rec.Key.String(), "urgent", rec.Urgent)
	w.notify(rec, OutcomeSpoken, nil)
}

func (w *Worker) notify(rec narration.Record, o Outcome, err error) {
	if w.observer != nil {
		w.observer(rec, o, err)
	}
}

// Stats returns outcome counters. Safe to call from any goroutine.
func (w *Worker) Stats() Stats {
	return Stats{
		Spoken:    w.spoken.Load(),
		Cooldown:  w.cooldown.Load(),
		Duplicate: w.duplicate.Load(),
		Failed:    w.failed.Load(),
	}
}
