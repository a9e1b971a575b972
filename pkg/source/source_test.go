package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/log"
)

func testJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// noisyJPEG encodes an image with enough texture to survive JPEG size
// checks.
func noisyJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := uint8((x*7 + y*13 + x*y) % 60)
			img.Set(x, y, color.RGBA{170 + n, 60 + n/2, 30, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSlice(t *testing.T) {
	s := NewSlice(Frame{JPEG: []byte("a")}, Frame{JPEG: []byte("b")})
	ctx := context.Background()

	for i, want := range []string{"a", "b"} {
		f, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if string(f.JPEG) != want || f.Seq != uint64(i+1) {
			t.Errorf("frame %d = %q seq %d", i, f.JPEG, f.Seq)
		}
		if f.CapturedAt.IsZero() {
			t.Error("CapturedAt not set")
		}
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("after last frame err = %v, want io.EOF", err)
	}

	s.Close()
	if _, err := s.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("after close err = %v, want ErrClosed", err)
	}
}

func TestTapEveryNth(t *testing.T) {
	frames := make([]Frame, 7)
	var seen []uint64
	src := Tap(NewSlice(frames...), 3, func(f Frame) { seen = append(seen, f.Seq) })

	ctx := context.Background()
	for {
		if _, err := src.Next(ctx); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Next: %v", err)
			}
			break
		}
	}
	if len(seen) != 2 || seen[0] != 3 || seen[1] != 6 {
		t.Errorf("tapped seqs = %v, want [3 6]", seen)
	}
}

func TestSliceDelayHonorsContext(t *testing.T) {
	s := NewSlice(Frame{}).WithDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestMailboxKeepsNewest(t *testing.T) {
	m := newMailbox()
	if m.put(Frame{JPEG: []byte("1")}) {
		t.Error("first put reported a replaced frame")
	}
	if !m.put(Frame{JPEG: []byte("2")}) {
		t.Error("second put should replace the unread frame")
	}

	f, err := m.next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(f.JPEG) != "2" || f.Seq != 2 {
		t.Errorf("got %q seq %d, want newest frame", f.JPEG, f.Seq)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("empty mailbox err = %v", err)
	}
}

func TestMailboxWakesWaiter(t *testing.T) {
	m := newMailbox()
	done := make(chan Frame, 1)
	go func() {
		f, _ := m.next(context.Background())
		done <- f
	}()

	time.Sleep(10 * time.Millisecond)
	m.put(Frame{JPEG: []byte("x")})

	select {
	case f := <-done:
		if string(f.JPEG) != "x" {
			t.Errorf("got %q", f.JPEG)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
}

func TestMailboxFailAfterPending(t *testing.T) {
	m := newMailbox()
	m.put(Frame{JPEG: []byte("last")})
	m.fail(io.EOF)

	if f, err := m.next(context.Background()); err != nil || string(f.JPEG) != "last" {
		t.Fatalf("pending frame lost: %q %v", f.JPEG, err)
	}
	if _, err := m.next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}

	m.close()
	if _, err := m.next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002.jpg", "001.jpeg", "003.JPG"} {
		if err := os.WriteFile(filepath.Join(dir, name), testJPEG(t, 32, 24, color.White), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644)

	r, err := OpenReplay(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		f, err := r.Next(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Seq != uint64(i) || f.Width != 32 || f.Height != 24 {
			t.Errorf("frame %d = seq %d %dx%d", i, f.Seq, f.Width, f.Height)
		}
	}
	if _, err := r.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestReplayEmptyDir(t *testing.T) {
	if _, err := OpenReplay(t.TempDir(), 5); err == nil {
		t.Error("expected error for directory without JPEGs")
	}
}

func TestBrowserIngest(t *testing.T) {
	b := NewBrowser(log.Discard())
	img := testJPEG(t, 40, 30, color.White)
	b64 := base64.StdEncoding.EncodeToString(img)

	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"data url", "data:image/jpeg;base64," + b64, true},
		{"bare base64", b64, true},
		{"envelope", `{"type":"frame","data":{"format":"jpeg","width":640,"height":480,"data":"` + b64 + `"}}`, true},
		{"garbage", "%%%", false},
		{"other message", `{"type":"pong"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Ingest([]byte(tt.payload)); got != tt.want {
				t.Errorf("Ingest() = %v, want %v", got, tt.want)
			}
		})
	}

	st := b.Stats()
	if st.FramesReceived != 3 || st.BadPayloads != 2 || st.FramesReplaced != 2 {
		t.Errorf("stats = %+v", st)
	}

	f, err := b.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.Width != 640 || f.Height != 480 {
		t.Errorf("newest frame size = %dx%d, want envelope size", f.Width, f.Height)
	}

	b.Ingest([]byte(b64))
	f, _ = b.Next(context.Background())
	if f.Width != 40 || f.Height != 30 {
		t.Errorf("decoded size = %dx%d, want 40x30", f.Width, f.Height)
	}

	b.Close()
	if _, err := b.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

// A client that never drains its connection must not hold up Notify.
func TestBrowserNotifySlowClient(t *testing.T) {
	b := NewBrowser(log.Discard())
	stalled := newBrowserClient(nil)
	b.attach(stalled)

	const pushes = clientSendBuffer + 4
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < pushes; i++ {
			b.Notify("n", "Person ahead.", false)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a stalled client")
	}

	if n := len(stalled.out); n != clientSendBuffer {
		t.Errorf("buffered = %d, want %d", n, clientSendBuffer)
	}
	if st := b.Stats(); st.Clients != 1 || st.PushesDropped != pushes-clientSendBuffer {
		t.Errorf("stats = %+v", st)
	}

	b.detach(stalled)
	if stalled.enqueue([]byte("late")) {
		t.Error("enqueue after detach accepted")
	}
	if b.ClientCount() != 0 {
		t.Errorf("clients = %d after detach", b.ClientCount())
	}
}

func TestIsGrayJPEG(t *testing.T) {
	tests := []struct {
		name string
		img  []byte
		want bool
	}{
		{"too small", []byte{0xFF, 0xD8}, true},
		{"black", testJPEG(t, 160, 120, color.Black), true},
		{"mid gray", testJPEG(t, 160, 120, color.RGBA{128, 128, 128, 255}), true},
		{"colored", noisyJPEG(t, 320, 240), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsGrayJPEG(tt.img); got != tt.want {
				t.Errorf("IsGrayJPEG() = %v, want %v", got, tt.want)
			}
		})
	}
}
