package describe

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const providerOpenAI = "openai"

// OpenAI generates narrations with an OpenAI-compatible chat completions
// endpoint. The defaults target Groq.
type OpenAI struct {
	client openai.Client
	config *Config
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible generator.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://api.groq.com/openai/v1"
	cfg.Model = "llama-3.1-8b-instant"
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerOpenAI, ErrNoAPIKey)
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	)

	return &OpenAI{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "describe.openai"),
	}, nil
}

// Name implements Generator.
func (o *OpenAI) Name() string { return providerOpenAI }

// Describe implements Generator.
func (o *OpenAI) Describe(ctx context.Context, req Request) (string, error) {
	if req.Empty() {
		return "", nil
	}
	p := BuildPrompt(req)

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(p.Text),
		},
		Model:       o.config.Model,
		Temperature: openai.Float(p.Temperature),
		MaxTokens:   openai.Int(int64(p.MaxTokens)),
	}

	text, err := withRetry(ctx, o.config, o.logger, func(ctx context.Context) (string, error) {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				return "", &APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Provider: providerOpenAI}
			}
			return "", WrapError(providerOpenAI, err)
		}
		if len(resp.Choices) == 0 {
			return "", WrapError(providerOpenAI, ErrNoContent)
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}

	o.logger.Debug("generated", "mode", p.Mode, "chars", len(text))
	return Clean(text), nil
}

var _ Generator = (*OpenAI)(nil)
