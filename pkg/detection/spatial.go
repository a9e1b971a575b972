package detection

import (
	"sort"

	"github.com/teslashibe/go-wayfinder/pkg/scene"
)

// Depth thresholds on a normalized map where 0 is nearest and 1 farthest.
const (
	VeryCloseThreshold = 0.25
	CloseThreshold     = 0.45
	ModerateThreshold  = 0.70
)

// DistanceBucket maps a normalized depth to a distance bucket.
func DistanceBucket(depth float64) scene.Distance {
	switch {
	case depth < VeryCloseThreshold:
		return scene.DistanceVeryClose
	case depth < CloseThreshold:
		return scene.DistanceClose
	case depth < ModerateThreshold:
		return scene.DistanceModerate
	default:
		return scene.DistanceFar
	}
}

// DirectionOf places a box left, ahead or right using the 40%/60% bands of
// the frame width.
func DirectionOf(b scene.BBox) scene.Direction {
	if b.Width() <= 0 {
		return scene.DirectionUnknown
	}
	cx, _ := b.Center()
	switch {
	case cx < 0.4:
		return scene.DirectionLeft
	case cx > 0.6:
		return scene.DirectionRight
	default:
		return scene.DirectionAhead
	}
}

// DepthMap is a normalized depth image (0 nearest, 1 farthest) at model
// resolution.
type DepthMap struct {
	Cols, Rows int
	Values     []float32
}

// NewDepthMap normalizes raw inverse-depth output (larger is nearer) into
// a DepthMap.
func NewDepthMap(raw []float32, cols, rows int) DepthMap {
	vals := make([]float32, len(raw))
	if len(raw) == 0 {
		return DepthMap{Cols: cols, Rows: rows}
	}
	lo, hi := raw[0], raw[0]
	for _, v := range raw {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo + 1e-8
	for i, v := range raw {
		vals[i] = 1 - (v-lo)/span
	}
	return DepthMap{Cols: cols, Rows: rows, Values: vals}
}

// Median returns the median depth inside a box. An empty region reports 0.5.
func (m DepthMap) Median(b scene.BBox) float64 {
	if m.Cols <= 0 || m.Rows <= 0 || len(m.Values) < m.Cols*m.Rows {
		return 0.5
	}
	sx, sy := float64(m.Cols), float64(m.Rows)
	x1 := clamp(int(b.X1*sx), 0, m.Cols)
	y1 := clamp(int(b.Y1*sy), 0, m.Rows)
	x2 := clamp(int(b.X2*sx), 0, m.Cols)
	y2 := clamp(int(b.Y2*sy), 0, m.Rows)
	if x2 <= x1 || y2 <= y1 {
		return 0.5
	}

	region := make([]float64, 0, (x2-x1)*(y2-y1))
	for y := y1; y < y2; y++ {
		row := m.Values[y*m.Cols : (y+1)*m.Cols]
		for x := x1; x < x2; x++ {
			region = append(region, float64(row[x]))
		}
	}
	sort.Float64s(region)
	n := len(region)
	if n%2 == 1 {
		return region[n/2]
	}
	return (region[n/2-1] + region[n/2]) / 2
}

// Annotate sets Direction on every detection with a box, and Distance when a
// depth map is given.
func Annotate(dets []scene.Detection, depth *DepthMap) {
	for i := range dets {
		if dets[i].BBox == nil {
			continue
		}
		dets[i].Direction = DirectionOf(*dets[i].BBox)
		if depth != nil {
			dets[i].Distance = DistanceBucket(depth.Median(*dets[i].BBox))
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
