// Package detection turns camera frames into labelled, spatially annotated
// detections.
package detection

import (
	"context"
	"sort"

	"github.com/teslashibe/go-wayfinder/pkg/scene"
	"github.com/teslashibe/go-wayfinder/pkg/source"
)

// Detector is the interface for perception backends.
type Detector interface {
	// Detect returns the objects found in the frame. Implementations are
	// not required to be safe for concurrent use.
	Detect(ctx context.Context, frame source.Frame) ([]scene.Detection, error)

	// Close releases resources
	Close() error
}

// Config holds detector configuration
type Config struct {
	ModelPath        string  // YOLOv8 ONNX model
	ConfidenceThresh float32 // Minimum class score (default 0.35)
	NMSThresh        float32 // IoU threshold for non-max suppression
	InputWidth       int     // Model input width
	InputHeight      int     // Model input height
	DepthModelPath   string  // MiDaS ONNX model, empty disables depth
	DepthInputSize   int     // MiDaS input side
}

// DefaultConfig returns production defaults for YOLOv8n
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.35,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
		DepthInputSize:   256,
	}
}

// Aggregate keeps the highest-confidence detection for each label and
// orders the result by confidence, then label.
func Aggregate(dets []scene.Detection) []scene.Detection {
	best := make(map[string]int, len(dets))
	out := make([]scene.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Label == "" {
			continue
		}
		if i, ok := best[d.Label]; ok {
			if d.Confidence > out[i].Confidence {
				out[i] = d
			}
			continue
		}
		best[d.Label] = len(out)
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Label < out[j].Label
	})
	return out
}
