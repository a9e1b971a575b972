package describe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/teslashibe/go-wayfinder/internal/httpc"
)

const providerGemini = "gemini"

// Gemini generates narrations with the Gemini API (API key auth).
type Gemini struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini generator.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	cfg.Model = "gemini-2.0-flash"
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	return &Gemini{
		config: cfg,
		http:   httpc.NewClient(cfg.Timeout),
		logger: cfg.Logger.With("component", "describe.gemini"),
	}, nil
}

// Name implements Generator.
func (g *Gemini) Name() string { return providerGemini }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Describe implements Generator.
func (g *Gemini) Describe(ctx context.Context, req Request) (string, error) {
	if req.Empty() {
		return "", nil
	}
	p := BuildPrompt(req)

	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: p.Text}}}}
	body.GenerationConfig.Temperature = p.Temperature
	body.GenerationConfig.MaxOutputTokens = p.MaxTokens

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.config.BaseURL, g.config.Model, g.config.APIKey)

	text, err := withRetry(ctx, g.config, g.logger, func(ctx context.Context) (string, error) {
		httpReq, err := httpc.NewJSONRequest(ctx, url, body, nil)
		if err != nil {
			return "", WrapError(providerGemini, err)
		}
		resp, err := g.http.Do(httpReq)
		if err != nil {
			return "", WrapError(providerGemini, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", g.parseError(resp)
		}

		var result geminiResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", WrapError(providerGemini, fmt.Errorf("decode response: %w", err))
		}
		if result.Error.Message != "" {
			return "", &APIError{StatusCode: result.Error.Code, Message: result.Error.Message, Provider: providerGemini}
		}
		if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
			return "", WrapError(providerGemini, ErrNoContent)
		}
		return result.Candidates[0].Content.Parts[0].Text, nil
	})
	if err != nil {
		return "", err
	}

	g.logger.Debug("generated", "mode", p.Mode, "chars", len(text))
	return Clean(text), nil
}

func (g *Gemini) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var doc geminiResponse
	msg := string(body)
	if json.Unmarshal(body, &doc) == nil && doc.Error.Message != "" {
		msg = doc.Error.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg, Provider: providerGemini}
}

var _ Generator = (*Gemini)(nil)
