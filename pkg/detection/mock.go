package detection

import (
	"context"
	"sync"

	"github.com/teslashibe/go-wayfinder/pkg/scene"
	"github.com/teslashibe/go-wayfinder/pkg/source"
)

// Mock is a scripted detector for tests and dry runs. Each Detect call
// returns the next script entry; once the script is exhausted the last
// entry repeats.
type Mock struct {
	mu     sync.Mutex
	script [][]scene.Detection
	calls  []uint64
	err    error

	// DetectFunc overrides the script when set.
	DetectFunc func(ctx context.Context, frame source.Frame) ([]scene.Detection, error)
}

// NewMock creates a detector that replays script.
func NewMock(script ...[]scene.Detection) *Mock {
	return &Mock{script: script}
}

// Labels builds a detection list from bare labels.
func Labels(labels ...string) []scene.Detection {
	out := make([]scene.Detection, len(labels))
	for i, l := range labels {
		out[i] = scene.Detection{Label: l, Confidence: 0.9}
	}
	return out
}

// WithError makes every call fail with err.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	return m
}

// Detect implements Detector.
func (m *Mock) Detect(ctx context.Context, frame source.Frame) ([]scene.Detection, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, frame.Seq)
	fn, err := m.DetectFunc, m.err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, frame)
	}
	if err != nil {
		return nil, err
	}
	if len(m.script) == 0 {
		return nil, nil
	}
	if n >= len(m.script) {
		n = len(m.script) - 1
	}
	out := make([]scene.Detection, len(m.script[n]))
	copy(out, m.script[n])
	return out, nil
}

// Calls returns the frame sequence numbers seen, in order.
func (m *Mock) Calls() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Detect calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Close implements Detector.
func (m *Mock) Close() error { return nil }

var _ Detector = (*Mock)(nil)
