// Package ai is the client side of the external summarization collaborator.
// It exposes one call, Summarize, over two interchangeable providers: a local
// Ollama instance (the default) and an OpenAI-compatible endpoint.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aulachat/aulachat/internal/config"
)

// Failure taxonomy of the collaborator. Callers map these to user-facing
// messages and must never crash on them.
var (
	// ErrServiceUnavailable means the service is not reachable at all.
	ErrServiceUnavailable = errors.New("summarization service unavailable")
	// ErrTimeout means the service did not answer within the deadline.
	ErrTimeout = errors.New("summarization timed out")
	// ErrProvider means the service answered with an error.
	ErrProvider = errors.New("summarization provider error")
)

// Summarizer condenses the recent history of one room.
type Summarizer interface {
	// Summarize sends the history tail to the provider and returns the
	// generated summary. It fails with ErrServiceUnavailable, ErrTimeout
	// or ErrProvider.
	Summarize(ctx context.Context, room string, tail []string) (string, error)
	// Probe checks reachability at startup; failures are advisory.
	Probe(ctx context.Context) error
}

// New builds the summarizer selected by the configuration.
func New(cfg config.AIConfig) (Summarizer, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaSummarizer(cfg.BaseURL, cfg.Model), nil
	case "openai":
		return NewOpenAISummarizer(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

// systemPrompt instructs the model the way the chat expects: key points and
// decisions, briefly, in Spanish, skipping system notices.
func systemPrompt(room string) string {
	return "Eres un asistente de secretaría técnica. Resume la siguiente conversación " +
		"del chat de la sala '" + room + "'. Ignora los mensajes de sistema como [SISTEMA]. " +
		"Enumera los puntos clave y decisiones. Sé breve y profesional en español."
}

func conversationPrompt(tail []string) string {
	return "Conversación:\n" + strings.Join(tail, "\n")
}
