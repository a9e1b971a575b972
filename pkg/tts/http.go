package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// requestFunc builds a fresh request for each attempt.
type requestFunc func(ctx context.Context) (*http.Request, error)

// doWithRetry sends the request built by newReq, retrying transport errors,
// 429 and 5xx with linear backoff. The returned response has a 2xx status;
// any other final status is converted with parse.
func doWithRetry(ctx context.Context, client *http.Client, cfg *Config, logger *slog.Logger,
	provider string, newReq requestFunc, parse func(*http.Response) error) (*http.Response, error) {

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, WrapError(provider, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = WrapError(provider, err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		apiErr := parse(resp)
		resp.Body.Close()

		var ae *APIError
		if errors.As(apiErr, &ae) && !ae.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		logger.Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return nil, lastErr
}

// readAudio drains a successful response body into a clip.
func readAudio(resp *http.Response, provider string, format AudioFormat, text string, start time.Time) (*AudioResult, error) {
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(provider, fmt.Errorf("read response: %w", err))
	}
	if len(audio) == 0 {
		return nil, WrapError(provider, errors.New("empty audio response"))
	}
	return &AudioResult{
		Audio:     audio,
		Format:    format,
		Duration:  pcmDuration(len(audio), format),
		CharCount: len(text),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// checkHealth performs an authenticated GET and expects 200.
func checkHealth(ctx context.Context, client *http.Client, url string, setAuth func(*http.Request),
	provider string, parse func(*http.Response) error) error {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return WrapError(provider, err)
	}
	setAuth(req)

	resp, err := client.Do(req)
	if err != nil {
		return WrapError(provider, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parse(resp)
	}
	return nil
}

// decodeErrorMessage pulls a message out of a JSON error body, falling back to
// the raw body. pick receives the decoded document.
func decodeErrorMessage[T any](body []byte, pick func(T) (msg, code string)) (string, string) {
	var doc T
	if json.Unmarshal(body, &doc) == nil {
		if msg, code := pick(doc); msg != "" {
			return msg, code
		}
	}
	return string(body), ""
}
