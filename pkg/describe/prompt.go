package describe

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-wayfinder/pkg/ani"
	"github.com/teslashibe/go-wayfinder/pkg/scene"
)

// Mode is the register of the narration.
type Mode string

// Modes.
const (
	ModeNormal       Mode = "normal"
	ModeEmergency    Mode = "emergency"
	ModeUrgent       Mode = "urgent"
	ModeAnticipatory Mode = "anticipatory"
)

// maxPromptItems caps the detections listed in a prompt.
const maxPromptItems = 10

// SystemPrompt is sent as the system message to chat-style providers.
const SystemPrompt = "You convert detections into spoken navigation guidance for a visually impaired walker."

// Prompt is a rendered model request.
type Prompt struct {
	Mode        Mode
	Text        string
	Temperature float64
	MaxTokens   int
}

// SelectMode picks the register for a request. Motion assessments take
// precedence; an imminent one makes the narration urgent. Without them an
// urgent request or a traffic-related object switches to emergency wording.
func SelectMode(req Request) Mode {
	if len(req.Assessments) > 0 {
		if ani.HasImminent(req.Assessments) {
			return ModeUrgent
		}
		return ModeAnticipatory
	}
	if req.Urgent {
		return ModeUrgent
	}
	if scene.HasEmergency(req.Detections) {
		return ModeEmergency
	}
	return ModeNormal
}

// BuildPrompt renders the request. Emergency registers use a lower
// temperature and a smaller token budget.
func BuildPrompt(req Request) Prompt {
	mode := SelectMode(req)
	p := Prompt{Mode: mode, Temperature: 0.4, MaxTokens: 100}

	strict := mode == ModeEmergency || mode == ModeUrgent || scene.HasEmergency(req.Detections)
	if strict {
		p.Temperature = 0.3
		p.MaxTokens = 80
	}

	switch {
	case mode == ModeUrgent && len(req.Assessments) > 0:
		p.Text = urgentMotionPrompt + "Motion-based risk assessments:\n" +
			FormatAssessments(req.Assessments) + "\n\nProvide urgent anticipatory guidance:"
	case mode == ModeAnticipatory:
		p.Text = anticipatoryPrompt + "Motion-based assessments:\n" +
			FormatAssessments(req.Assessments) + "\n\nProvide anticipatory guidance:"
	case mode == ModeUrgent || mode == ModeEmergency:
		p.Text = emergencyPrompt + "Detected objects:\n" +
			FormatDetections(req.Detections) + "\n\nProvide urgent safety guidance:"
	default:
		p.Text = normalPrompt + "Detected objects:\n" +
			FormatDetections(req.Detections) + "\n\nProvide decisive navigation guidance:"
	}
	return p
}

// FormatDetections lists detections one per line as
// "- Label (direction, distance)".
func FormatDetections(dets []scene.Detection) string {
	if len(dets) == 0 {
		return "No objects detected."
	}
	var b strings.Builder
	for i, d := range dets {
		if i == maxPromptItems {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		label := title(d.Label)
		if d.Distance != scene.DistanceUnknown && d.Direction != scene.DirectionUnknown {
			fmt.Fprintf(&b, "- %s (%s, %s)", label, d.Direction, d.Distance)
		} else {
			fmt.Fprintf(&b, "- %s", label)
		}
	}
	return b.String()
}

// FormatAssessments lists assessments as
// "- Label (direction, distance) - motion - RISK: LEVEL".
func FormatAssessments(as []ani.Assessment) string {
	if len(as) == 0 {
		return "No moving objects or risks detected."
	}
	lines := make([]string, len(as))
	for i, a := range as {
		lines[i] = fmt.Sprintf("- %s (%s, %s) - %s - RISK: %s",
			title(a.Label), orUnknown(string(a.Direction)), orUnknown(string(a.Distance)),
			a.Motion, strings.ToUpper(string(a.Risk)))
	}
	return strings.Join(lines, "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// title upper-cases the first letter of every word.
func title(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "Object"
	}
	words := strings.Fields(label)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

const normalPrompt = "You are an assistive AI for visually impaired people. " +
	"Your role is to provide decisive, actionable navigation guidance.\n\n" +
	"CRITICAL RULES:\n" +
	"1. Use directional language: left/right, ahead/behind\n" +
	"2. Convert distance categories into approximate language:\n" +
	"   - very_close: 'very close', 'right beside you', 'within arm's reach'\n" +
	"   - close: 'a few steps away', 'nearby'\n" +
	"   - moderate: 'several steps ahead'\n" +
	"   - far: mention only if safety-relevant\n" +
	"3. When obstacles are close or very_close, suggest ONE specific direction to avoid them\n" +
	"4. Be decisive: 'Move slightly right' not 'move left or right'\n" +
	"5. NEVER say exact distances in meters or feet\n" +
	"6. Keep it to 1-2 sentences maximum\n" +
	"7. Be calm and reassuring\n\n" +
	"EXAMPLES OF GOOD GUIDANCE:\n" +
	"- 'A person is a few steps ahead on the left. Move slightly right.'\n" +
	"- 'There is a chair very close on your left. Please stop and step right.'\n" +
	"- 'The path ahead is clear. You can walk forward safely.'\n\n"

const emergencyPrompt = "You are an assistive AI for visually impaired people. " +
	"An emergency hazard has been detected. Provide IMMEDIATE safety guidance.\n\n" +
	"URGENT RULES:\n" +
	"1. Start with 'Warning' or 'Caution'\n" +
	"2. State the object type and location (left/right/ahead)\n" +
	"3. Give ONE clear action: 'Step back', 'Stop', 'Move right'\n" +
	"4. If distance is 'very_close', emphasize urgency\n" +
	"5. Use approximate language: 'very close', 'right beside you', 'immediately ahead'\n" +
	"6. Be firm but calm\n" +
	"7. Maximum 2 short sentences\n\n" +
	"DISTANCE MEANINGS:\n" +
	"- very_close: Within arm's reach, immediate danger\n" +
	"- close: A few steps away\n" +
	"- moderate: Several steps away\n" +
	"- far: Not an immediate concern\n\n" +
	"EXAMPLES:\n" +
	"- 'Warning. Vehicle very close on your right. Step back immediately.'\n" +
	"- 'Caution. Person directly ahead, very close. Please stop.'\n\n"

const anticipatoryPrompt = "You are an assistive AI for visually impaired people with ANTICIPATORY intelligence.\n" +
	"Provide proactive navigation guidance based on predicted object motion.\n\n" +
	"ANTICIPATORY RULES:\n" +
	"1. Focus on objects in motion, not static environment\n" +
	"2. Use predictive language: 'approaching', 'crossing your path', 'moving away'\n" +
	"3. Suggest one action: 'slow down', 'keep left', 'keep right', 'pause briefly'\n" +
	"4. Be calm and reassuring\n" +
	"5. Maximum 2 sentences\n\n" +
	"EXAMPLES:\n" +
	"- 'A person is approaching from ahead. Slow down.'\n" +
	"- 'Someone is about to cross from your left. Keep slightly right.'\n\n"

const urgentMotionPrompt = "You are an assistive AI for visually impaired people with PREDICTIVE safety intelligence.\n" +
	"IMMINENT collision risk detected based on object motion. Provide IMMEDIATE anticipatory guidance.\n\n" +
	"URGENT RULES:\n" +
	"1. Start with 'Warning' or 'Caution'\n" +
	"2. State object, direction, and motion\n" +
	"3. Give ONE immediate action: 'Stop', 'Step back', 'Pause'\n" +
	"4. Be firm but calm\n" +
	"5. Maximum 2 sentences\n\n" +
	"RISK LEVELS:\n" +
	"- IMMINENT: Collision likely within 1-2 seconds\n" +
	"- HIGH: Significant risk if you continue\n" +
	"- MEDIUM: Potential risk, proceed with caution\n\n" +
	"EXAMPLES:\n" +
	"- 'Warning. Person approaching directly ahead. Please stop and wait.'\n" +
	"- 'Caution. Bicycle crossing from the left. Pause briefly.'\n\n"
