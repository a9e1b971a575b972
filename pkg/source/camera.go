package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Camera reads frames from a local device, a video file or a stream URL
// through OpenCV.
type Camera struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	seq    uint64
	logger *slog.Logger
}

// OpenCamera opens device index when url is empty, otherwise the URL or
// file path.
func OpenCamera(index int, url string, logger *slog.Logger) (*Camera, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if url != "" {
		vc, err = gocv.OpenVideoCapture(url)
	} else {
		vc, err = gocv.OpenVideoCapture(index)
	}
	if err != nil {
		return nil, fmt.Errorf("source: open camera: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("source: camera %q not available", describeDevice(index, url))
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "source.camera")
	logger.Info("camera opened", "device", describeDevice(index, url),
		"width", vc.Get(gocv.VideoCaptureFrameWidth), "height", vc.Get(gocv.VideoCaptureFrameHeight))

	return &Camera{cap: vc, mat: gocv.NewMat(), logger: logger}, nil
}

func describeDevice(index int, url string) string {
	if url != "" {
		return url
	}
	return fmt.Sprintf("/dev/video%d", index)
}

// Next implements Source. Read blocks for the device frame interval, so
// the camera paces the loop on its own.
func (c *Camera) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return Frame{}, ErrClosed
	}

	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return Frame{}, fmt.Errorf("source: camera read failed")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, c.mat)
	if err != nil {
		return Frame{}, fmt.Errorf("source: encode frame: %w", err)
	}
	defer buf.Close()

	jpeg := make([]byte, buf.Len())
	copy(jpeg, buf.GetBytes())

	c.seq++
	return Frame{
		Seq:        c.seq,
		JPEG:       jpeg,
		Width:      c.mat.Cols(),
		Height:     c.mat.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

// Close implements Source.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil
	}
	c.mat.Close()
	err := c.cap.Close()
	c.cap = nil
	return err
}

var _ Source = (*Camera)(nil)
