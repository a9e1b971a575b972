package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// Depth runs a MiDaS-small ONNX model to produce relative depth maps.
type Depth struct {
	net  gocv.Net
	size int
	mu   sync.Mutex
}

// NewDepth loads the MiDaS model at path. size is the square input side.
func NewDepth(path string, size int) (*Depth, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("depth model not found: %s", path)
	}
	if size <= 0 {
		size = 256
	}
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load depth model from %s", path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &Depth{net: net, size: size}, nil
}

// Estimate returns the normalized depth map for img.
func (d *Depth) Estimate(img gocv.Mat) (DepthMap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// ImageNet mean in 0-255 units, applied before scaling.
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(d.size, d.size),
		gocv.NewScalar(123.675, 116.28, 103.53, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return DepthMap{}, fmt.Errorf("depth output: %w", err)
	}
	if len(data) < d.size*d.size {
		return DepthMap{}, fmt.Errorf("depth output has %d values, want %d", len(data), d.size*d.size)
	}
	return NewDepthMap(data[:d.size*d.size], d.size, d.size), nil
}

// Close releases the network.
func (d *Depth) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
