package describe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/aiplatform/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const providerVertex = "vertex"

// Vertex generates narrations with a Gemini model served by Vertex AI.
type Vertex struct {
	svc    *aiplatform.Service
	model  string // full publisher model resource name
	config *Config
	logger *slog.Logger
}

// NewVertex creates a Vertex AI generator. Credentials come from the
// application default chain (GOOGLE_APPLICATION_CREDENTIALS, gcloud, or the
// metadata server); the project falls back to the credentials' project.
func NewVertex(ctx context.Context, opts ...Option) (*Vertex, error) {
	cfg := DefaultConfig()
	cfg.Model = "gemini-2.0-flash"
	cfg.Apply(opts...)

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s-aiplatform.googleapis.com/", cfg.Location)
	}
	clientOpts := []option.ClientOption{option.WithEndpoint(endpoint)}

	switch {
	case cfg.Anonymous:
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	case cfg.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	default:
		creds, err := google.FindDefaultCredentials(ctx, aiplatform.CloudPlatformScope)
		if err != nil {
			return nil, WrapError(providerVertex, fmt.Errorf("find credentials: %w", err))
		}
		if cfg.Project == "" {
			cfg.Project = creds.ProjectID
		}
		clientOpts = append(clientOpts, option.WithTokenSource(creds.TokenSource))
	}

	if cfg.Project == "" {
		return nil, WrapError(providerVertex, ErrNoProject)
	}

	svc, err := aiplatform.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerVertex, err)
	}

	return &Vertex{
		svc:    svc,
		model:  fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", cfg.Project, cfg.Location, cfg.Model),
		config: cfg,
		logger: cfg.Logger.With("component", "describe.vertex"),
	}, nil
}

// Name implements Generator.
func (v *Vertex) Name() string { return providerVertex }

// Describe implements Generator. Server errors are retried with exponential
// backoff; client errors are returned at once.
func (v *Vertex) Describe(ctx context.Context, req Request) (string, error) {
	if req.Empty() {
		return "", nil
	}
	p := BuildPrompt(req)

	body := &aiplatform.GoogleCloudAiplatformV1GenerateContentRequest{
		Contents: []*aiplatform.GoogleCloudAiplatformV1Content{{
			Role:  "user",
			Parts: []*aiplatform.GoogleCloudAiplatformV1Part{{Text: p.Text}},
		}},
		GenerationConfig: &aiplatform.GoogleCloudAiplatformV1GenerationConfig{
			Temperature:     p.Temperature,
			MaxOutputTokens: int64(p.MaxTokens),
		},
	}

	text, err := withRetry(ctx, v.config, v.logger, func(ctx context.Context) (string, error) {
		callCtx := ctx
		if v.config.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, v.config.Timeout)
			defer cancel()
		}

		resp, err := v.svc.Projects.Locations.Publishers.Models.GenerateContent(v.model, body).Context(callCtx).Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) {
				return "", &APIError{StatusCode: gerr.Code, Message: gerr.Message, Provider: providerVertex}
			}
			return "", WrapError(providerVertex, err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", WrapError(providerVertex, ErrNoContent)
		}
		return resp.Candidates[0].Content.Parts[0].Text, nil
	})
	if err != nil {
		return "", err
	}

	v.logger.Debug("generated", "mode", p.Mode, "chars", len(text))
	return Clean(text), nil
}

var _ Generator = (*Vertex)(nil)
