package speech

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/audio"
	"github.com/teslashibe/go-wayfinder/pkg/tts"
)

// Sink speaks one narration and returns when the utterance has finished.
type Sink interface {
	Speak(ctx context.Context, text string) error
}

// TTSSink synthesizes text with a TTS provider and plays the clip.
type TTSSink struct {
	provider tts.Provider
	player   audio.Player
}

// NewTTSSink creates a sink from a provider and a player.
func NewTTSSink(provider tts.Provider, player audio.Player) *TTSSink {
	return &TTSSink{provider: provider, player: player}
}

// Speak implements Sink.
func (s *TTSSink) Speak(ctx context.Context, text string) error {
	clip, err := s.provider.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if err := s.player.Play(ctx, clip); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// LogSink writes narrations to a logger instead of a speaker. It is used
// when no TTS provider is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-only sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "speech.log")}
}

// Speak implements Sink.
func (s *LogSink) Speak(_ context.Context, text string) error {
	s.logger.Info("🔊 narration", "text", text)
	return nil
}

// MockSink records spoken texts. SpeakFunc, when set, decides the result.
type MockSink struct {
	SpeakFunc func(ctx context.Context, text string) error

	mu     sync.Mutex
	spoken []string
	times  []time.Time
}

// Speak implements Sink.
func (m *MockSink) Speak(ctx context.Context, text string) error {
	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	m.times = append(m.times, time.Now())
	m.mu.Unlock()
	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, text)
	}
	return nil
}

// Spoken returns the texts passed to Speak, in order.
func (m *MockSink) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	copy(out, m.spoken)
	return out
}

var (
	_ Sink = (*TTSSink)(nil)
	_ Sink = (*LogSink)(nil)
	_ Sink = (*MockSink)(nil)
)
