// Package describe turns stabilized detections into one short spoken
// narration for a visually impaired walker.
//
// A Generator receives the detections of a changed scene (optionally with
// motion risk assessments) and returns a sentence or two of guidance. The
// empty string means there is nothing worth saying. Providers:
//
//   - Vertex: Gemini on Vertex AI with application default credentials
//   - Gemini: the Gemini API with an API key
//   - OpenAI: any OpenAI-compatible chat endpoint (Groq by default)
//   - Summary: offline rule-based phrasing, never fails
//
// Chain tries generators in order; Mock is for tests.
package describe

import (
	"context"
	"strings"

	"github.com/teslashibe/go-wayfinder/pkg/ani"
	"github.com/teslashibe/go-wayfinder/pkg/scene"
)

// Generator produces a narration for a scene.
type Generator interface {
	// Name identifies the provider in logs.
	Name() string

	// Describe returns the narration, or "" when there is nothing to say.
	Describe(ctx context.Context, req Request) (string, error)
}

// Request is the input to a Generator.
type Request struct {
	Detections  []scene.Detection
	Assessments []ani.Assessment

	// Urgent is set when a safety-relevant object is within arm's reach.
	Urgent bool
}

// Empty reports whether there is nothing to describe.
func (r Request) Empty() bool { return len(r.Detections) == 0 }

// Clean trims whitespace and surrounding quotes from model output.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, `"`)
	text = strings.Trim(text, `'`)
	return strings.TrimSpace(text)
}
