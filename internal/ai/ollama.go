package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// OllamaSummarizer talks to a local Ollama instance through its REST API.
type OllamaSummarizer struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaSummarizer creates the default provider. The per-call deadline
// comes from the caller's context, so the HTTP client itself has no timeout.
func NewOllamaSummarizer(baseURL, model string) *OllamaSummarizer {
	return &OllamaSummarizer{
		baseURL: normalizeBaseURL(baseURL),
		model:   model,
		client:  &http.Client{},
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Summarize posts the prompt to /api/generate and returns the response text.
func (s *OllamaSummarizer) Summarize(ctx context.Context, room string, tail []string) (string, error) {
	payload := ollamaGenerateRequest{
		Model:  s.model,
		Prompt: systemPrompt(room) + "\n\n" + conversationPrompt(tail),
		Stream: false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var generated ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&generated); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if strings.TrimSpace(generated.Response) == "" {
		return "", fmt.Errorf("%w: empty response", ErrProvider)
	}
	return generated.Response, nil
}

// Probe issues a bare GET against the base URL, the cheapest way to tell
// whether Ollama is up.
func (s *OllamaSummarizer) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	resp.Body.Close()
	return nil
}

// classifyTransportError separates "did not answer in time" from "is not
// running" for the user-facing messages.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

func normalizeBaseURL(baseURL string) string {
	u := strings.TrimSpace(baseURL)
	if u == "" {
		return "http://localhost:11434"
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}
