package describe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/teslashibe/go-wayfinder/pkg/scene"
)

const providerSummary = "summary"

// Summary builds narrations from rules alone. It needs no network and never
// fails, so it is the usual last link of a Chain.
type Summary struct{}

// NewSummary creates the offline generator.
func NewSummary() *Summary { return &Summary{} }

// Name implements Generator.
func (s *Summary) Name() string { return providerSummary }

// Describe implements Generator.
func (s *Summary) Describe(_ context.Context, req Request) (string, error) {
	if req.Empty() {
		return "", nil
	}
	return Summarize(req.Detections), nil
}

// Summarize phrases detections by distance: anything very close is a danger,
// close objects call for slowing down, moderate ones are reported only when
// nothing is nearer. Without depth information the labels are listed.
func Summarize(dets []scene.Detection) string {
	type seenKey struct {
		label string
		dir   scene.Direction
		dist  scene.Distance
	}
	seen := make(map[seenKey]bool)
	var veryClose, near, moderate []scene.Detection
	var unranged []string
	for _, d := range dets {
		k := seenKey{d.Label, d.Direction, d.Distance}
		if seen[k] {
			continue
		}
		seen[k] = true
		switch d.Distance {
		case scene.DistanceVeryClose:
			veryClose = append(veryClose, d)
		case scene.DistanceClose:
			near = append(near, d)
		case scene.DistanceModerate:
			moderate = append(moderate, d)
		case scene.DistanceUnknown:
			unranged = append(unranged, d.Label)
		}
	}

	var parts []string

	if len(veryClose) > 0 {
		people := only(veryClose, "person")
		switch {
		case len(people) > 1:
			parts = append(parts, fmt.Sprintf("Danger! %d people very close at %s. Stop now",
				len(people), directions(people)))
		case len(veryClose) == 1:
			parts = append(parts, fmt.Sprintf("Danger! %s very close%s. Stop now",
				veryClose[0].Label, where(veryClose[0])))
		default:
			parts = append(parts, fmt.Sprintf("Danger! %s very close. Stop immediately",
				strings.Join(labels(veryClose, 2), ", ")))
		}
	}

	if len(near) > 0 {
		people := only(near, "person")
		switch {
		case len(people) > 1:
			parts = append(parts, fmt.Sprintf("%d people nearby", len(people)))
		case len(near) == 1:
			parts = append(parts, fmt.Sprintf("%s close%s", near[0].Label, where(near[0])))
		case len(near) == 2:
			parts = append(parts, fmt.Sprintf("%s and %s close", near[0].Label, near[1].Label))
		default:
			parts = append(parts, fmt.Sprintf("%d objects nearby", len(near)))
		}
	}

	if len(moderate) > 0 && len(veryClose) == 0 && len(near) == 0 {
		people := only(moderate, "person")
		switch {
		case len(people) > 1:
			parts = append(parts, fmt.Sprintf("%d people detected at safe distance", len(people)))
		case len(moderate) == 1:
			parts = append(parts, fmt.Sprintf("%s ahead at moderate distance", moderate[0].Label))
		default:
			parts = append(parts, fmt.Sprintf("%d objects detected at safe distance", len(moderate)))
		}
	}

	ranged := len(veryClose) > 0 || len(near) > 0 || len(moderate) > 0
	if !ranged && len(unranged) > 0 {
		parts = append(parts, "I see "+joinAnd(unranged))
	}

	switch {
	case len(veryClose) > 0:
		parts = append(parts, "Proceed with extreme caution")
	case len(near) > 0:
		parts = append(parts, "Slow down and be careful")
	case len(moderate) > 0, len(unranged) > 0:
		parts = append(parts, "Environment safe, stay alert")
	default:
		parts = append(parts, "All clear")
	}

	out := strings.Join(parts, ". ") + "."
	return strings.ToUpper(out[:1]) + out[1:]
}

func only(dets []scene.Detection, label string) []scene.Detection {
	var out []scene.Detection
	for _, d := range dets {
		if d.Label == label {
			out = append(out, d)
		}
	}
	return out
}

func labels(dets []scene.Detection, n int) []string {
	out := make([]string, 0, n)
	for i, d := range dets {
		if i == n {
			break
		}
		out = append(out, d.Label)
	}
	return out
}

func directions(dets []scene.Detection) string {
	set := make(map[string]bool)
	for i, d := range dets {
		if i == 3 {
			break
		}
		if d.Direction != scene.DirectionUnknown {
			set[string(d.Direction)] = true
		}
	}
	out := make([]string, 0, len(set))
	for dir := range set {
		out = append(out, dir)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

func where(d scene.Detection) string {
	if d.Direction == scene.DirectionUnknown {
		return ""
	}
	return " " + string(d.Direction)
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

var _ Generator = (*Summary)(nil)
