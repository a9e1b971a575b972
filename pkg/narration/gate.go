package narration

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/scene"
	"github.com/teslashibe/go-wayfinder/pkg/similarity"
)

// Verdict is the outcome of Gate.TryEnqueue.
type Verdict string

// Verdicts.
const (
	VerdictEnqueued  Verdict = "enqueued"
	VerdictEmpty     Verdict = "empty"
	VerdictCooldown  Verdict = "cooldown"
	VerdictDuplicate Verdict = "duplicate"
	VerdictQueueFull Verdict = "queue_full"
)

// EnqueueState is what the gate remembers about the last accepted record.
type EnqueueState struct {
	LastText       string
	LastKey        scene.Key
	LastEnqueuedAt time.Time
}

// Gate filters records before they reach the queue. All checks and the state
// update happen under one lock so concurrent producers cannot both pass.
type Gate struct {
	mu    sync.Mutex
	state EnqueueState

	queue      *Queue
	cooldown   time.Duration
	comparator similarity.Comparator
	now        func() time.Time
	logger     *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the time source.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithComparator overrides the similarity thresholds.
func WithComparator(c similarity.Comparator) GateOption {
	return func(g *Gate) { g.comparator = c }
}

// WithLogger sets the gate logger.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a dedup gate in front of q.
func NewGate(q *Queue, cooldown time.Duration, opts ...GateOption) *Gate {
	g := &Gate{
		queue:      q,
		cooldown:   cooldown,
		comparator: similarity.Default,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "narration.gate")
	return g
}

// TryEnqueue runs the checks in order and pushes rec when all pass:
//  1. the enqueue cooldown has not elapsed since the last accepted record
//  2. the text is similar to the last accepted text for the same scene key
//  3. the queue is full
func (g *Gate) TryEnqueue(rec Record) Verdict {
	if rec.Text == "" {
		return VerdictEmpty
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.state.LastEnqueuedAt.IsZero() && now.Sub(g.state.LastEnqueuedAt) < g.cooldown {
		g.logger.Debug("narration suppressed", "reason", VerdictCooldown, "text", rec.Text)
		return VerdictCooldown
	}
	if g.state.LastText != "" && rec.Key == g.state.LastKey && g.comparator.Similar(rec.Text, g.state.LastText) {
		g.logger.Debug("narration suppressed", "reason", VerdictDuplicate, "text", rec.Text)
		return VerdictDuplicate
	}
	if !g.queue.TryPush(rec) {
		g.logger.Debug("narration dropped", "reason", VerdictQueueFull, "text", rec.Text)
		return VerdictQueueFull
	}

	g.state = EnqueueState{
		LastText:       rec.Text,
		LastKey:        rec.Key,
		LastEnqueuedAt: now,
	}
	return VerdictEnqueued
}

// State returns a snapshot of the gate state.
func (g *Gate) State() EnqueueState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
