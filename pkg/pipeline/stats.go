package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/gate"
	"github.com/teslashibe/go-wayfinder/pkg/speech"
)

type counters struct {
	framesRead    atomic.Uint64
	framesSampled atomic.Uint64
	framesBusy    atomic.Uint64

	analyses        atomic.Uint64
	detectErrors    atomic.Uint64
	dispatched      atomic.Uint64
	skippedEmpty    atomic.Uint64
	skippedSame     atomic.Uint64
	generateErrors  atomic.Uint64
	emptyNarrations atomic.Uint64

	enqueued            atomic.Uint64
	suppressedCooldown  atomic.Uint64
	suppressedDuplicate atomic.Uint64
	droppedQueueFull    atomic.Uint64
}

func (c *counters) countSkip(r gate.Reason) {
	switch r {
	case gate.ReasonEmpty:
		c.skippedEmpty.Add(1)
	case gate.ReasonUnchanged:
		c.skippedSame.Add(1)
	}
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitempty"`

	FramesRead        uint64 `json:"frames_read"`
	FramesSampled     uint64 `json:"frames_sampled"`
	FramesDroppedBusy uint64 `json:"frames_dropped_busy"`

	Analyses         uint64 `json:"analyses"`
	DetectErrors     uint64 `json:"detect_errors"`
	Dispatched       uint64 `json:"dispatched"`
	SkippedEmpty     uint64 `json:"skipped_empty"`
	SkippedUnchanged uint64 `json:"skipped_unchanged"`
	GenerateErrors   uint64 `json:"generate_errors"`
	EmptyNarrations  uint64 `json:"empty_narrations"`

	Enqueued            uint64 `json:"enqueued"`
	SuppressedCooldown  uint64 `json:"suppressed_cooldown"`
	SuppressedDuplicate uint64 `json:"suppressed_duplicate"`
	DroppedQueueFull    uint64 `json:"dropped_queue_full"`
	QueueLength         int    `json:"queue_length"`

	Speech speech.Stats `json:"speech"`
}

// Stats returns current counters. Safe to call from any goroutine.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Running:             p.running.Load(),
		FramesRead:          p.stats.framesRead.Load(),
		FramesSampled:       p.stats.framesSampled.Load(),
		FramesDroppedBusy:   p.stats.framesBusy.Load(),
		Analyses:            p.stats.analyses.Load(),
		DetectErrors:        p.stats.detectErrors.Load(),
		Dispatched:          p.stats.dispatched.Load(),
		SkippedEmpty:        p.stats.skippedEmpty.Load(),
		SkippedUnchanged:    p.stats.skippedSame.Load(),
		GenerateErrors:      p.stats.generateErrors.Load(),
		EmptyNarrations:     p.stats.emptyNarrations.Load(),
		Enqueued:            p.stats.enqueued.Load(),
		SuppressedCooldown:  p.stats.suppressedCooldown.Load(),
		SuppressedDuplicate: p.stats.suppressedDuplicate.Load(),
		DroppedQueueFull:    p.stats.droppedQueueFull.Load(),
		QueueLength:         p.queue.Len(),
		Speech:              p.worker.Stats(),
	}
	if ns := p.startedAt.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns)
	}
	return s
}
