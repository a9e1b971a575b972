package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/pipeline"
)

// Inserter is the write side of a Store.
type Inserter interface {
	Insert(ctx context.Context, e Entry) error
}

var _ Inserter = (*Store)(nil)

// Writer journals pipeline events off the pipeline's goroutines. Observe
// never blocks; when the buffer is full the entry is dropped and counted.
type Writer struct {
	store   Inserter
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Entry
	wg     sync.WaitGroup

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewWriter starts a writer with the given buffer depth.
func NewWriter(store Inserter, buffer int, logger *slog.Logger) *Writer {
	if buffer < 1 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		store:   store,
		logger:  logger.With("component", "journal"),
		timeout: 5 * time.Second,
		ch:      make(chan Entry, buffer),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for e := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.store.Insert(ctx, e)
		cancel()
		if err != nil {
			w.failed.Add(1)
			w.logger.Warn("journal write failed", "kind", e.Kind, "error", err)
			continue
		}
		w.written.Add(1)
	}
}

// EntryFromEvent maps a pipeline event to a journal entry. Events that are
// not narration outcomes report false.
func EntryFromEvent(e pipeline.Event) (Entry, bool) {
	var kind Kind
	switch e.Type {
	case pipeline.EventSpoken:
		kind = KindSpoken
	case pipeline.EventSuppressed:
		kind = KindSuppressed
	case pipeline.EventFailed:
		kind = KindFailed
	default:
		return Entry{}, false
	}
	return Entry{
		RecordID:  e.RecordID,
		Kind:      kind,
		Reason:    e.Reason,
		Stage:     e.Stage,
		Key:       e.Key,
		Text:      e.Text,
		Urgent:    e.Urgent,
		Error:     e.Error,
		CreatedAt: e.Time,
	}, true
}

// Observe is a pipeline.Observer.
func (w *Writer) Observe(e pipeline.Event) {
	entry, ok := EntryFromEvent(e)
	if !ok {
		return
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- entry:
	default:
		w.dropped.Add(1)
	}
}

// Close flushes buffered entries and stops the writer. Observe is a no-op
// afterwards.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	w.wg.Wait()
}

// WriterStats reports writer counters.
type WriterStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Stats returns current counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
	}
}
