package ai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAISummarizer talks to an OpenAI-compatible endpoint through the
// Responses API.
type OpenAISummarizer struct {
	client openai.Client
	model  string
}

// NewOpenAISummarizer creates the OpenAI-backed provider. baseURL may be
// empty for the hosted API, or point at a compatible local server.
func NewOpenAISummarizer(baseURL, apiKey, model string) *OpenAISummarizer {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAISummarizer{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Summarize sends the conversation tail as one request and returns the
// generated text.
func (s *OpenAISummarizer) Summarize(ctx context.Context, room string, tail []string) (string, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(s.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(conversationPrompt(tail)),
		},
		Instructions: openai.String(systemPrompt(room)),
	}

	resp, err := s.client.Responses.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	text := resp.OutputText()
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrProvider)
	}
	return text, nil
}

// Probe is a no-op for the hosted provider; there is nothing cheap to ping.
func (s *OpenAISummarizer) Probe(ctx context.Context) error {
	return nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d", ErrProvider, apiErr.StatusCode)
	}
	return classifyTransportError(err)
}
