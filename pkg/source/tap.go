package source

import (
	"context"
	"sync/atomic"
)

// Tapped wraps a Source and hands every Nth frame to a callback. The
// callback runs on the reader's goroutine and must not block.
type Tapped struct {
	Source
	every uint64
	n     atomic.Uint64
	fn    func(Frame)
}

// Tap returns src with fn called on every Nth frame read. every < 1 means
// every frame.
func Tap(src Source, every int, fn func(Frame)) *Tapped {
	if every < 1 {
		every = 1
	}
	return &Tapped{Source: src, every: uint64(every), fn: fn}
}

// Next implements Source.
func (t *Tapped) Next(ctx context.Context) (Frame, error) {
	f, err := t.Source.Next(ctx)
	if err != nil {
		return f, err
	}
	if t.fn != nil && t.n.Add(1)%t.every == 0 {
		t.fn(f)
	}
	return f, nil
}

var _ Source = (*Tapped)(nil)
