package pipeline

import (
	"sync"
	"time"
)

// EventType identifies what happened in the pipeline.
type EventType string

// Event types.
const (
	EventDispatched EventType = "dispatched" // gate sent the scene to the generator
	EventSkipped    EventType = "skipped"    // gate held the scene back
	EventFailed     EventType = "failed"     // detector, generator or sink error
	EventEnqueued   EventType = "enqueued"   // narration accepted into the queue
	EventSuppressed EventType = "suppressed" // dedup gate or speech worker discarded it
	EventSpoken     EventType = "spoken"     // sink finished the utterance
	EventCycleDone  EventType = "cycle_done" // one analysis cycle fully handled
	EventStopped    EventType = "stopped"    // Run returned
)

// Stage names where a failure happened.
const (
	StageDetect   = "detect"
	StageGenerate = "generate"
	StageSpeak    = "speak"
)

// Event describes one pipeline occurrence. Fields not relevant to the type
// are left zero.
type Event struct {
	Type     EventType `json:"type"`
	Time     time.Time `json:"time"`
	Seq      uint64    `json:"seq,omitempty"`
	Key      string    `json:"key,omitempty"`
	Labels   []string  `json:"labels,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Stage    string    `json:"stage,omitempty"`
	RecordID string    `json:"record_id,omitempty"`
	Text     string    `json:"text,omitempty"`
	Urgent   bool      `json:"urgent,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Observer receives pipeline events. Observers run on pipeline goroutines
// and must not block.
type Observer func(Event)

// observers is a concurrency-safe observer list.
type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observers) add(fn Observer) {
	o.mu.Lock()
	o.list = append(o.list, fn)
	o.mu.Unlock()
}

func (o *observers) emit(e Event) {
	o.mu.RLock()
	list := o.list
	o.mu.RUnlock()
	for _, fn := range list {
		fn(e)
	}
}

// History keeps the most recent events of selected types in a ring. It is
// an Observer, used by the dashboard's narration list.
type History struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	full  bool
	types map[EventType]bool
}

// NewHistory keeps up to size events of the given types; no types means all.
func NewHistory(size int, types ...EventType) *History {
	if size < 1 {
		size = 1
	}
	h := &History{buf: make([]Event, size)}
	if len(types) > 0 {
		h.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			h.types[t] = true
		}
	}
	return h
}

// Observe implements Observer.
func (h *History) Observe(e Event) {
	if h.types != nil && !h.types[e.Type] {
		return
	}
	h.mu.Lock()
	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Recent returns the kept events, newest first.
func (h *History) Recent() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.next
	if h.full {
		n = len(h.buf)
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, h.buf[(h.next-i+len(h.buf))%len(h.buf)])
	}
	return out
}
