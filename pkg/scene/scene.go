// Package scene defines the perception vocabulary shared by the narration
// pipeline: detections, distance and direction buckets, stable label sets and
// the keys used to decide whether a scene has changed.
package scene

import (
	"math"
	"sort"
	"strings"
)

// Distance is a coarse relative distance bucket.
type Distance string

// Distance buckets. The zero value means unknown.
const (
	DistanceUnknown   Distance = ""
	DistanceVeryClose Distance = "very_close"
	DistanceClose     Distance = "close"
	DistanceModerate  Distance = "moderate"
	DistanceFar       Distance = "far"
)

// Phrase returns spoken-friendly wording for the bucket.
func (d Distance) Phrase() string {
	switch d {
	case DistanceVeryClose:
		return "very close"
	case DistanceClose:
		return "a few steps away"
	case DistanceModerate:
		return "several steps away"
	case DistanceFar:
		return "far away"
	default:
		return ""
	}
}

// Direction is the horizontal position of an object relative to the camera.
type Direction string

// Direction values. The zero value means unknown.
const (
	DirectionUnknown Direction = ""
	DirectionLeft    Direction = "left"
	DirectionRight   Direction = "right"
	DirectionAhead   Direction = "ahead"
)

// Phrase returns spoken-friendly wording for the direction.
func (d Direction) Phrase() string {
	switch d {
	case DirectionLeft:
		return "on your left"
	case DirectionRight:
		return "on your right"
	case DirectionAhead:
		return "ahead"
	default:
		return ""
	}
}

// BBox is a bounding box normalized to the frame: 0,0 is the top-left
// corner and 1,1 the bottom-right.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// NormalizeBBox converts a pixel box in a width x height frame to a BBox,
// clamping each edge to [0,1]. A non-positive frame size yields the zero box.
func NormalizeBBox(x1, y1, x2, y2, width, height float64) BBox {
	if width <= 0 || height <= 0 {
		return BBox{}
	}
	return BBox{
		X1: unit(x1 / width), Y1: unit(y1 / height),
		X2: unit(x2 / width), Y2: unit(y2 / height),
	}
}

func unit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Center returns the box centre.
func (b BBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Width returns the box width.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Detection is one recognized object in a frame.
type Detection struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	BBox       *BBox     `json:"bbox,omitempty"`
	Distance   Distance  `json:"distance,omitempty"`
	Direction  Direction `json:"direction,omitempty"`
}

// LabelSet is an unordered set of labels.
type LabelSet map[string]struct{}

// NewLabelSet builds a set from labels.
func NewLabelSet(labels ...string) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// Labels collects the distinct labels of the detections.
func Labels(dets []Detection) LabelSet {
	s := make(LabelSet, len(dets))
	for _, d := range dets {
		s[d.Label] = struct{}{}
	}
	return s
}

// Has reports whether label is in the set.
func (s LabelSet) Has(label string) bool {
	_, ok := s[label]
	return ok
}

// Sorted returns the labels in lexicographic order.
func (s LabelSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Filter keeps the detections whose label is in the set, preserving order.
func Filter(dets []Detection, keep LabelSet) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if keep.Has(d.Label) {
			out = append(out, d)
		}
	}
	return out
}

// Key is the canonical, order-independent identity of a stable label set.
// The zero value is the empty key.
type Key struct {
	labels string
}

// KeyOf returns the key for a label set.
func KeyOf(s LabelSet) Key {
	return Key{labels: strings.Join(s.Sorted(), "|")}
}

// ParseKey rebuilds a key from its String form.
func ParseKey(s string) Key {
	if s == "" {
		return Key{}
	}
	return KeyOf(NewLabelSet(strings.Split(s, "|")...))
}

// Empty reports whether the key has no labels.
func (k Key) Empty() bool { return k.labels == "" }

// String returns the sorted labels joined with "|".
func (k Key) String() string { return k.labels }

// Labels returns the sorted labels of the key.
func (k Key) Labels() []string {
	if k.labels == "" {
		return nil
	}
	return strings.Split(k.labels, "|")
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) { return []byte(k.labels), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(b []byte) error {
	*k = ParseKey(string(b))
	return nil
}
