package describe

import (
	"context"
	"sync"
	"time"
)

// Mock implements Generator for testing.
type Mock struct {
	// DescribeFunc overrides Describe. If nil, the offline summary is returned.
	DescribeFunc func(ctx context.Context, req Request) (string, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a Describe invocation.
type MockCall struct {
	Request Request
	Time    time.Time
}

// NewMock creates a mock generator.
func NewMock() *Mock { return &Mock{} }

// NewStaticMock returns a mock that always answers text.
func NewStaticMock(text string) *Mock {
	return &Mock{DescribeFunc: func(context.Context, Request) (string, error) { return text, nil }}
}

// NewErrorMock returns a mock that always fails with err.
func NewErrorMock(err error) *Mock {
	return &Mock{DescribeFunc: func(context.Context, Request) (string, error) { return "", err }}
}

// Name implements Generator.
func (m *Mock) Name() string { return "mock" }

// Describe records the call and returns DescribeFunc's result.
func (m *Mock) Describe(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Request: req, Time: time.Now()})
	m.mu.Unlock()

	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, req)
	}
	if req.Empty() {
		return "", nil
	}
	return Summarize(req.Detections), nil
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Describe calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Generator = (*Mock)(nil)
