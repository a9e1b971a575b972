package scene

import "strings"

// safetyLabels are objects worth announcing regardless of distance.
var safetyLabels = map[string]bool{
	"person": true, "car": true, "truck": true, "bus": true,
	"motorcycle": true, "bicycle": true, "chair": true, "couch": true,
	"bench": true, "stairs": true, "traffic light": true, "stop sign": true,
}

// emergencyLabels switch narration into the emergency register.
var emergencyLabels = map[string]bool{
	"car": true, "truck": true, "bus": true, "motorcycle": true,
	"vehicle": true, "bicycle": true, "traffic light": true, "stop sign": true,
}

// vehicleLabels add extra weight in risk scoring.
var vehicleLabels = map[string]bool{
	"car": true, "truck": true, "bus": true, "motorcycle": true, "bicycle": true,
}

// IsSafetyRelevant reports whether label is a navigation hazard.
func IsSafetyRelevant(label string) bool {
	return safetyLabels[strings.ToLower(label)]
}

// IsEmergency reports whether label is traffic related.
func IsEmergency(label string) bool {
	return emergencyLabels[strings.ToLower(label)]
}

// IsVehicle reports whether label is a moving vehicle class.
func IsVehicle(label string) bool {
	return vehicleLabels[strings.ToLower(label)]
}

// UrgentOverride reports whether the stable detections contain a
// safety-relevant object within arm's reach. An urgent frame bypasses the
// unchanged-scene suppression of the dispatch gate.
func UrgentOverride(dets []Detection) bool {
	for _, d := range dets {
		if d.Distance == DistanceVeryClose && IsSafetyRelevant(d.Label) {
			return true
		}
	}
	return false
}

// HasEmergency reports whether any detection is traffic related.
func HasEmergency(dets []Detection) bool {
	for _, d := range dets {
		if IsEmergency(d.Label) {
			return true
		}
	}
	return false
}
