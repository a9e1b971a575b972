// Package tts turns narration text into audio.
//
// Providers synthesize a complete clip per narration; narrations are one or
// two short sentences so whole-clip synthesis keeps playback simple. The
// ElevenLabs and OpenAI providers share retry and error handling, and Chain
// falls back across them.
//
// Example usage:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice("rachel"),
//	)
//	defer provider.Close()
//
//	clip, _ := provider.Synthesize(ctx, "A person is a few steps ahead.")
package tts

import (
	"context"
	"time"
)

// Provider synthesizes narration audio.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Synthesize converts text to a complete audio clip.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult is a synthesized clip.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	Duration  time.Duration // estimate; zero for compressed formats
	CharCount int
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int // PCM only
}

// Encoding names an output format. Values match ElevenLabs output_format.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"
	EncodingMP3   Encoding = "mp3_44100_128"
)

// IsPCM reports whether the encoding is raw signed 16-bit PCM.
func (e Encoding) IsPCM() bool {
	switch e {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

// SampleRate returns the sample rate implied by the encoding.
func (e Encoding) SampleRate() int {
	switch e {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	default:
		return 24000
	}
}

// Format returns the mono format for the encoding.
func (e Encoding) Format() AudioFormat {
	f := AudioFormat{Encoding: e, SampleRate: e.SampleRate(), Channels: 1}
	if e.IsPCM() {
		f.BitDepth = 16
	}
	return f
}

// pcmDuration estimates playback time of mono PCM16 audio.
func pcmDuration(n int, f AudioFormat) time.Duration {
	if !f.Encoding.IsPCM() || f.SampleRate == 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(float64(samples) / float64(f.SampleRate) * float64(time.Second))
}

// VoiceSettings controls voice characteristics for providers that support it.
type VoiceSettings struct {
	// Stability trades expressiveness (low) for consistency (high), 0-1.
	Stability float64

	// SimilarityBoost controls how closely output matches the voice sample, 0-1.
	SimilarityBoost float64

	Style        float64
	SpeakerBoost bool
}

// DefaultVoiceSettings favours a calm, consistent delivery.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.4,
		SimilarityBoost: 0.8,
		SpeakerBoost:    true,
	}
}
