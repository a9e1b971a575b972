// Package ani tracks detections across analysed frames and predicts which
// objects are about to get in the walker's way.
//
// Tracks are matched greedily by label and centroid distance in normalized
// frame coordinates. Each track carries a velocity estimate from its last two
// observations; a score built from distance, speed, direction, predicted path
// and object class maps to a risk level.
package ani

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/scene"
)

// Risk is a collision risk level.
type Risk string

// Risk levels, lowest first.
const (
	RiskNone     Risk = "none"
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskImminent Risk = "imminent"
)

// Motion classifies how a tracked object is moving relative to the camera.
type Motion string

// Motion classes.
const (
	MotionStationary  Motion = "stationary"
	MotionApproaching Motion = "approaching"
	MotionCrossing    Motion = "crossing"
	MotionMoving      Motion = "moving"
)

// Assessment is a reported risk for one tracked object.
type Assessment struct {
	TrackID   int             `json:"track_id"`
	Label     string          `json:"label"`
	Direction scene.Direction `json:"direction"`
	Distance  scene.Distance  `json:"distance"`
	Motion    Motion          `json:"motion"`
	Risk      Risk            `json:"risk"`
	Score     float64         `json:"score"`
}

// HasImminent reports whether any assessment is imminent.
func HasImminent(as []Assessment) bool {
	for _, a := range as {
		if a.Risk == RiskImminent {
			return true
		}
	}
	return false
}

// Config holds engine parameters.
type Config struct {
	// MatchDistance is the largest centroid jump (normalized units) still
	// treated as the same object.
	MatchDistance float64

	// MaxMissed is how many consecutive frames a track may go unseen.
	MaxMissed int

	// Horizon is how far ahead positions are extrapolated.
	Horizon time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{
		MatchDistance: 0.3,
		MaxMissed:     5,
		Horizon:       1500 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

const (
	movingThreshold    = 0.01  // normalized units per second
	predictThreshold   = 0.005 // minimum speed before extrapolating
	velocitySaturation = 0.05
)

type point struct{ x, y float64 }

func (p point) dist(o point) float64 { return math.Hypot(p.x-o.x, p.y-o.y) }

type track struct {
	id        int
	label     string
	pos       point
	prev      *point
	seenAt    time.Time
	velocity  point
	distance  scene.Distance
	direction scene.Direction
	missed    int
}

func (t *track) update(d scene.Detection, pos point, now time.Time) {
	prev := t.pos
	dt := now.Sub(t.seenAt).Seconds()
	t.prev = &prev
	t.pos = pos
	if dt > 0 {
		t.velocity = point{(pos.x - prev.x) / dt, (pos.y - prev.y) / dt}
	}
	t.seenAt = now
	if d.Distance != scene.DistanceUnknown {
		t.distance = d.Distance
	}
	if d.Direction != scene.DirectionUnknown {
		t.direction = d.Direction
	}
	t.missed = 0
}

func (t *track) speed() float64 { return math.Hypot(t.velocity.x, t.velocity.y) }

// Engine holds live tracks. It is not safe for concurrent use; the pipeline
// calls it from its single analysis goroutine.
type Engine struct {
	cfg    Config
	tracks map[int]*track
	nextID int
	logger *slog.Logger
}

// New creates an engine. Zero fields in cfg take defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MatchDistance <= 0 {
		cfg.MatchDistance = def.MatchDistance
	}
	if cfg.MaxMissed <= 0 {
		cfg.MaxMissed = def.MaxMissed
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return &Engine{
		cfg:    cfg,
		tracks: make(map[int]*track),
		logger: cfg.Logger.With("component", "ani"),
	}
}

// Process updates tracks with the detections of one frame and returns the
// assessments at medium risk or above, ordered by descending score.
func (e *Engine) Process(dets []scene.Detection, now time.Time) []Assessment {
	e.associate(dets, now)

	var out []Assessment
	for _, t := range e.tracks {
		if a, ok := e.assess(t); ok {
			out = append(out, a)
		}
	}
	e.prune()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TrackID < out[j].TrackID
	})
	return out
}

// Tracks returns the number of live tracks.
func (e *Engine) Tracks() int { return len(e.tracks) }

// Reset forgets all tracks.
func (e *Engine) Reset() {
	e.tracks = make(map[int]*track)
}

func (e *Engine) associate(dets []scene.Detection, now time.Time) {
	if len(dets) == 0 {
		for _, t := range e.tracks {
			t.missed++
		}
		return
	}

	centroids := make([]point, len(dets))
	for i, d := range dets {
		centroids[i] = centroid(d)
	}

	// Visit tracks in id order so matching is deterministic.
	ids := make([]int, 0, len(e.tracks))
	for id := range e.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	matched := make([]bool, len(dets))
	for _, id := range ids {
		t := e.tracks[id]
		best, bestDist := -1, e.cfg.MatchDistance
		for i, d := range dets {
			if matched[i] || d.Label != t.label {
				continue
			}
			if dist := centroids[i].dist(t.pos); dist < bestDist {
				best, bestDist = i, dist
			}
		}
		if best < 0 {
			t.missed++
			continue
		}
		matched[best] = true
		t.update(dets[best], centroids[best], now)
	}

	for i, d := range dets {
		if matched[i] {
			continue
		}
		e.tracks[e.nextID] = &track{
			id:        e.nextID,
			label:     d.Label,
			pos:       centroids[i],
			seenAt:    now,
			distance:  d.Distance,
			direction: d.Direction,
		}
		e.nextID++
	}
}

func (e *Engine) prune() {
	for id, t := range e.tracks {
		if t.missed > e.cfg.MaxMissed {
			delete(e.tracks, id)
		}
	}
}

func (e *Engine) assess(t *track) (Assessment, bool) {
	if !scene.IsSafetyRelevant(t.label) || t.prev == nil {
		return Assessment{}, false
	}
	score := e.score(t)
	risk := riskFor(score)
	if risk == RiskNone || risk == RiskLow {
		return Assessment{}, false
	}
	motion := classify(t)
	e.logger.Debug("risk", "label", t.label, "motion", motion, "risk", risk, "score", score)
	return Assessment{
		TrackID:   t.id,
		Label:     t.label,
		Direction: t.direction,
		Distance:  t.distance,
		Motion:    motion,
		Risk:      risk,
		Score:     score,
	}, true
}

func (e *Engine) score(t *track) float64 {
	var s float64
	switch t.distance {
	case scene.DistanceVeryClose:
		s += 40
	case scene.DistanceClose:
		s += 25
	case scene.DistanceModerate:
		s += 10
	case scene.DistanceFar:
	default:
		s += 5
	}

	v := t.speed()
	s += math.Min(v/velocitySaturation, 1) * 20

	switch t.direction {
	case scene.DirectionAhead:
		s += 15
	case scene.DirectionLeft, scene.DirectionRight:
		s += 5
	}

	if v > predictThreshold {
		h := e.cfg.Horizon.Seconds()
		px := t.pos.x + t.velocity.x*h
		py := t.pos.y + t.velocity.y*h
		if px >= 0.4 && px <= 0.6 && py > t.pos.y {
			s += 20
		}
	}

	if scene.IsVehicle(t.label) {
		s += 10
	}
	return s
}

func riskFor(score float64) Risk {
	switch {
	case score >= 60:
		return RiskImminent
	case score >= 45:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	case score >= 15:
		return RiskLow
	default:
		return RiskNone
	}
}

// classify treats downward image motion as approaching and horizontal
// motion toward the frame centre as crossing.
func classify(t *track) Motion {
	if t.speed() < movingThreshold {
		return MotionStationary
	}
	vx, vy := t.velocity.x, t.velocity.y
	if math.Abs(vy) > math.Abs(vx) {
		if vy > 0 {
			return MotionApproaching
		}
		return MotionMoving
	}
	if (t.pos.x < 0.5 && vx > 0) || (t.pos.x > 0.5 && vx < 0) {
		return MotionCrossing
	}
	return MotionMoving
}

// centroid returns the box centre, or a nominal position from the
// direction bucket when the detection has no box.
func centroid(d scene.Detection) point {
	if d.BBox != nil {
		cx, cy := d.BBox.Center()
		return point{cx, cy}
	}
	switch d.Direction {
	case scene.DirectionLeft:
		return point{0.3, 0.5}
	case scene.DirectionRight:
		return point{0.7, 0.5}
	default:
		return point{0.5, 0.5}
	}
}
