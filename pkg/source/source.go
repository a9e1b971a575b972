// Package source delivers camera frames to the narration pipeline.
//
// Every Source produces JPEG frames one at a time through Next. A live
// source that produces frames faster than they are consumed keeps only the
// newest one; io.EOF marks the end of a finite stream.
package source

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("source: closed")

// Frame is one captured image.
type Frame struct {
	Seq        uint64
	JPEG       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Source produces frames.
type Source interface {
	// Next blocks until a frame is available, the stream ends (io.EOF) or
	// ctx is done.
	Next(ctx context.Context) (Frame, error)

	// Close releases the device or connection.
	Close() error
}

// mailbox holds the newest frame from a producer goroutine. Older frames
// are overwritten, never queued.
type mailbox struct {
	mu     sync.Mutex
	frame  *Frame
	seq    uint64
	ready  chan struct{}
	closed bool
	err    error
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

// put stores f as the newest frame and reports whether an unread frame was
// overwritten.
func (m *mailbox) put(f Frame) (replaced bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.seq++
	f.Seq = m.seq
	replaced = m.frame != nil
	m.frame = &f
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return replaced
}

// fail ends the stream with err once the pending frame is consumed.
func (m *mailbox) fail(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) next(ctx context.Context) (Frame, error) {
	for {
		m.mu.Lock()
		switch {
		case m.closed:
			m.mu.Unlock()
			return Frame{}, ErrClosed
		case m.frame != nil:
			f := *m.frame
			m.frame = nil
			m.mu.Unlock()
			return f, nil
		case m.err != nil:
			err := m.err
			m.mu.Unlock()
			return Frame{}, err
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-m.ready:
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.frame = nil
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Slice replays a fixed list of frames and then returns io.EOF. It is used
// by tests and by tools that already hold the frames in memory.
type Slice struct {
	mu     sync.Mutex
	frames []Frame
	pos    int
	delay  time.Duration
	closed bool
}

// NewSlice creates a slice source. Frames without a sequence number are
// numbered from 1.
func NewSlice(frames ...Frame) *Slice {
	out := make([]Frame, len(frames))
	for i, f := range frames {
		if f.Seq == 0 {
			f.Seq = uint64(i + 1)
		}
		out[i] = f
	}
	return &Slice{frames: out}
}

// WithDelay makes Next wait d before each frame.
func (s *Slice) WithDelay(d time.Duration) *Slice {
	s.delay = d
	return s
}

// Next implements Source.
func (s *Slice) Next(ctx context.Context) (Frame, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Frame{}, ErrClosed
	}
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}
	return f, nil
}

// Close implements Source.
func (s *Slice) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ Source = (*Slice)(nil)
