package detection

import (
	"context"
	"fmt"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-wayfinder/pkg/scene"
	"github.com/teslashibe/go-wayfinder/pkg/source"
)

// Vision combines YOLO object detection with optional MiDaS depth. Each
// frame is decoded once and shared by both networks.
type Vision struct {
	yolo   *YOLO
	depth  *Depth
	logger *slog.Logger
}

// New loads the configured models. Depth is skipped when
// cfg.DepthModelPath is empty; a depth model that fails to load is logged
// and skipped as well.
func New(cfg Config, logger *slog.Logger) (*Vision, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "detection")

	yolo, err := NewYOLO(cfg)
	if err != nil {
		return nil, err
	}
	v := &Vision{yolo: yolo, logger: logger}

	if cfg.DepthModelPath != "" {
		depth, err := NewDepth(cfg.DepthModelPath, cfg.DepthInputSize)
		if err != nil {
			logger.Warn("depth disabled", "error", err)
		} else {
			v.depth = depth
		}
	}
	logger.Info("detector ready", "model", cfg.ModelPath, "depth", v.depth != nil)
	return v, nil
}

// Detect implements Detector.
func (v *Vision) Detect(ctx context.Context, frame source.Frame) ([]scene.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	dets := Aggregate(v.yolo.DetectMat(img))
	if len(dets) == 0 {
		return dets, nil
	}

	var depth *DepthMap
	if v.depth != nil && ctx.Err() == nil {
		m, err := v.depth.Estimate(img)
		if err != nil {
			v.logger.Debug("depth estimation failed", "error", err)
		} else {
			depth = &m
		}
	}
	Annotate(dets, depth)

	v.logger.Debug("frame analysed", "seq", frame.Seq, "objects", len(dets))
	return dets, nil
}

// Close releases both networks.
func (v *Vision) Close() error {
	err := v.yolo.Close()
	if v.depth != nil {
		if derr := v.depth.Close(); err == nil {
			err = derr
		}
	}
	return err
}

var _ Detector = (*Vision)(nil)
