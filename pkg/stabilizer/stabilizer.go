// Package stabilizer smooths per-frame detection labels over a sliding window
// so that a label flickering in a single frame does not trigger narration.
package stabilizer

import "github.com/teslashibe/go-wayfinder/pkg/scene"

// Defaults.
const (
	DefaultWindowSize = 3
	DefaultMinHits    = 2
)

// Stabilizer keeps the label sets of the most recent frames in a ring buffer.
// A label is stable when it appears in at least MinHits of the buffered
// frames.
//
// Stabilizer is not safe for concurrent use; the pipeline only touches it
// from the analysis goroutine.
type Stabilizer struct {
	window  []scene.LabelSet
	next    int
	filled  int
	minHits int
}

// New creates a stabilizer. windowSize is clamped to at least 1 and minHits
// to [1, windowSize].
func New(windowSize, minHits int) *Stabilizer {
	if windowSize < 1 {
		windowSize = 1
	}
	minHits = min(max(minHits, 1), windowSize)
	return &Stabilizer{
		window:  make([]scene.LabelSet, windowSize),
		minHits: minHits,
	}
}

// Observe pushes the labels of the latest frame, evicting the oldest frame
// when the window is full, and returns the labels that are now stable.
// The returned set may be empty.
func (s *Stabilizer) Observe(labels scene.LabelSet) scene.LabelSet {
	copied := make(scene.LabelSet, len(labels))
	for l := range labels {
		copied[l] = struct{}{}
	}
	s.window[s.next] = copied
	s.next = (s.next + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}

	counts := make(map[string]int)
	for i := 0; i < s.filled; i++ {
		for l := range s.window[i] {
			counts[l]++
		}
	}

	stable := make(scene.LabelSet)
	for l, n := range counts {
		if n >= s.minHits {
			stable[l] = struct{}{}
		}
	}
	return stable
}

// Reset clears the window.
func (s *Stabilizer) Reset() {
	for i := range s.window {
		s.window[i] = nil
	}
	s.next, s.filled = 0, 0
}

// Len returns the number of buffered frames.
func (s *Stabilizer) Len() int { return s.filled }

// WindowSize returns the ring buffer capacity.
func (s *Stabilizer) WindowSize() int { return len(s.window) }

// MinHits returns the stable threshold.
func (s *Stabilizer) MinHits() int { return s.minHits }
