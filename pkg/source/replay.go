package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Replay plays back the JPEG files of a directory in name order at a fixed
// rate, then returns io.EOF.
type Replay struct {
	mu       sync.Mutex
	files    []string
	pos      int
	interval time.Duration
	last     time.Time
	closed   bool
}

// OpenReplay lists *.jpg and *.jpeg files in dir. fps <= 0 replays as fast
// as frames are consumed.
func OpenReplay(dir string, fps float64) (*Replay, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("source: replay dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("source: no JPEG files in %s", dir)
	}
	sort.Strings(files)

	r := &Replay{files: files}
	if fps > 0 {
		r.interval = time.Duration(float64(time.Second) / fps)
	}
	return r, nil
}

// Len returns the number of frames in the replay.
func (r *Replay) Len() int { return len(r.files) }

// Next implements Source.
func (r *Replay) Next(ctx context.Context) (Frame, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Frame{}, ErrClosed
	}
	if r.pos >= len(r.files) {
		r.mu.Unlock()
		return Frame{}, io.EOF
	}
	path := r.files[r.pos]
	r.pos++
	seq := uint64(r.pos)
	wait := time.Duration(0)
	if r.interval > 0 && !r.last.IsZero() {
		wait = r.interval - time.Since(r.last)
	}
	r.mu.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("source: read %s: %w", path, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("source: decode %s: %w", path, err)
	}

	now := time.Now()
	r.mu.Lock()
	r.last = now
	r.mu.Unlock()

	return Frame{Seq: seq, JPEG: data, Width: cfg.Width, Height: cfg.Height, CapturedAt: now}, nil
}

// Close implements Source.
func (r *Replay) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

var _ Source = (*Replay)(nil)
