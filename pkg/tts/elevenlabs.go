package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs.
const (
	ModelTurboV2_5      = "eleven_turbo_v2_5"
	ModelFlashV2_5      = "eleven_flash_v2_5"
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// elevenLabsVoices maps calm narration presets to voice IDs.
var elevenLabsVoices = map[string]string{
	"rachel":    "21m00Tcm4TlvDq8ikWAM",
	"charlotte": "XB0fDUnXU5powFXDhCwa",
	"sarah":     "EXAVITQu4vr4xnSDxMaL",
	"adam":      "pNInz6obpgDQGcFmaJgB",
}

// ResolveVoice returns the voice ID for a preset name, or name unchanged.
func ResolveVoice(name string) string {
	if id, ok := elevenLabsVoices[name]; ok {
		return id
	}
	return name
}

// ElevenLabs implements Provider for ElevenLabs TTS.
type ElevenLabs struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewElevenLabs creates a new ElevenLabs TTS provider.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	cfg.VoiceID = ResolveVoice(cfg.VoiceID)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	return &ElevenLabs{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "tts.elevenlabs"),
		baseURL: baseURL,
	}, nil
}

// Name implements Provider.
func (e *ElevenLabs) Name() string { return providerElevenLabs }

// Synthesize converts text to a complete clip.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, WrapError(providerElevenLabs, ErrEmptyText)
	}
	start := time.Now()

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		e.baseURL, url.PathEscape(e.config.VoiceID), url.QueryEscape(string(e.config.OutputFormat)))
	payload := e.buildPayload(text)

	resp, err := doWithRetry(ctx, e.client, e.config, e.logger, providerElevenLabs,
		func(ctx context.Context) (*http.Request, error) {
			return httpc.NewJSONRequest(ctx, endpoint, payload, map[string]string{
				"xi-api-key": e.config.APIKey,
				"Accept":     e.mimeType(),
			})
		}, e.parseError)
	if err != nil {
		return nil, err
	}

	result, err := readAudio(resp, providerElevenLabs, e.config.OutputFormat.Format(), text, start)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("synthesized narration",
		"chars", len(text),
		"bytes", len(result.Audio),
		"latency_ms", result.LatencyMs,
		"model", e.config.ModelID,
	)
	return result, nil
}

// Health checks API connectivity and API key validity.
func (e *ElevenLabs) Health(ctx context.Context) error {
	return checkHealth(ctx, e.client, e.baseURL+"/user", func(r *http.Request) {
		r.Header.Set("xi-api-key", e.config.APIKey)
	}, providerElevenLabs, e.parseError)
}

// Close releases resources held by the provider.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured voice ID.
func (e *ElevenLabs) VoiceID() string { return e.config.VoiceID }

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

func (e *ElevenLabs) buildPayload(text string) elevenLabsRequest {
	vs := e.config.VoiceSettings
	return elevenLabsRequest{
		Text:    text,
		ModelID: e.config.ModelID,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       vs.Stability,
			SimilarityBoost: vs.SimilarityBoost,
			Style:           vs.Style,
			SpeakerBoost:    vs.SpeakerBoost,
		},
	}
}

type elevenLabsError struct {
	Detail struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"detail"`
}

func (e *ElevenLabs) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	msg, code := decodeErrorMessage(body, func(doc elevenLabsError) (string, string) {
		return doc.Detail.Message, doc.Detail.Status
	})
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		Code:       code,
		Provider:   providerElevenLabs,
	}
}

func (e *ElevenLabs) mimeType() string {
	if e.config.OutputFormat.IsPCM() {
		return "audio/pcm"
	}
	return "audio/mpeg"
}

var _ Provider = (*ElevenLabs)(nil)
