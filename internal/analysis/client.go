package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

var ErrNotConfigured = errors.New("analysis provider is not configured")

// AudioInput is one uploaded recording.
type AudioInput struct {
	Filename        string
	ContentType     string
	DurationSeconds float64
	Data            io.Reader
}

// Analyzer runs the remote analysis and returns its JSON result untouched.
type Analyzer interface {
	Analyze(ctx context.Context, in AudioInput) (json.RawMessage, error)
}

// HTTPAnalyzer posts recordings to the provider as multipart form data.
type HTTPAnalyzer struct {
	apiURL string
	apiKey string
	client *http.Client
}

func NewHTTPAnalyzer(apiURL, apiKey string, timeout time.Duration) *HTTPAnalyzer {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &HTTPAnalyzer{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, in AudioInput) (json.RawMessage, error) {
	if a.apiURL == "" {
		return nil, ErrNotConfigured
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("audio", in.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if _, err := io.Copy(part, in.Data); err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if err := w.WriteField("duration_seconds", strconv.FormatFloat(in.DurationSeconds, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analysis provider returned %d: %s", resp.StatusCode, truncate(respBody, 200))
	}
	if !json.Valid(respBody) {
		return nil, errors.New("analysis provider returned invalid JSON")
	}
	return json.RawMessage(respBody), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
