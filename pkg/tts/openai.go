package tts

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/httpc"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	providerOpenAI = "openai"
)

// OpenAI voices suited to narration.
const (
	VoiceAlloy   = "alloy"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAI model options.
const (
	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

// OpenAI implements Provider for OpenAI TTS. It always returns MP3.
type OpenAI struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceNova
	cfg.Apply(opts...)
	cfg.OutputFormat = EncodingMP3

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceNova
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIBaseURL
	}

	return &OpenAI{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "tts.openai"),
		baseURL: baseURL,
	}, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return providerOpenAI }

type openAISpeechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize converts text to an MP3 clip.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyText)
	}
	start := time.Now()

	payload := openAISpeechRequest{
		Model:          o.config.ModelID,
		Voice:          o.config.VoiceID,
		Input:          text,
		ResponseFormat: "mp3",
	}
	resp, err := doWithRetry(ctx, o.client, o.config, o.logger, providerOpenAI,
		func(ctx context.Context) (*http.Request, error) {
			return httpc.NewJSONRequest(ctx, o.baseURL+"/audio/speech", payload, map[string]string{
				"Authorization": "Bearer " + o.config.APIKey,
			})
		}, o.parseError)
	if err != nil {
		return nil, err
	}

	result, err := readAudio(resp, providerOpenAI, EncodingMP3.Format(), text, start)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("synthesized narration",
		"chars", len(text),
		"bytes", len(result.Audio),
		"latency_ms", result.LatencyMs,
		"voice", o.config.VoiceID,
	)
	return result, nil
}

// Health checks API connectivity via the models endpoint.
func (o *OpenAI) Health(ctx context.Context) error {
	return checkHealth(ctx, o.client, o.baseURL+"/models", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	}, providerOpenAI, o.parseError)
}

// Close releases resources.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (o *OpenAI) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	msg, code := decodeErrorMessage(body, func(doc openAIError) (string, string) {
		return doc.Error.Message, doc.Error.Code
	})
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		Code:       code,
		Provider:   providerOpenAI,
	}
}

var _ Provider = (*OpenAI)(nil)
