package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"ibkr-copilot/internal/api"
	"ibkr-copilot/internal/llm"
	"ibkr-copilot/internal/store"
	"ibkr-copilot/internal/trace"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	requestTimeout = 60 * time.Second
)

// Settings configures an Answerer.
type Settings struct {
	Model       string
	System      string
	Temperature float32
	MaxTokens   int
	APIKey      string
	// RequireKey is false for local servers that accept anonymous calls.
	RequireKey bool
}

// Answerer talks to any OpenAI-compatible /chat/completions endpoint.
type Answerer struct {
	http *api.Client
	s    Settings
}

func New(httpClient *api.Client, s Settings) *Answerer {
	if s.System == "" {
		s.System = llm.DefaultSystemPrompt
	}
	return &Answerer{http: httpClient, s: s}
}

// NewFromConfig builds an Answerer for the OPENAI and LOCAL providers.
func NewFromConfig(cfg *store.Config) *Answerer {
	base := cfg.LLM.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := api.NewClient(
		api.WithBaseURL(strings.TrimRight(base, "/")),
		api.WithTimeout(requestTimeout),
	)
	return New(httpClient, Settings{
		Model:       cfg.LLM.Model,
		System:      cfg.LLM.System,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		APIKey:      llm.APIKey(os.Getenv, "OPENAI_API_KEY"),
		RequireKey:  !strings.EqualFold(cfg.LLM.Provider, "LOCAL"),
	})
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (a *Answerer) Answer(ctx context.Context, query, background string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	if a.s.RequireKey && a.s.APIKey == "" {
		return "", llm.ErrMissingAPIKey
	}

	body := chatRequest{
		Model: a.s.Model,
		Messages: []message{
			{Role: "system", Content: a.s.System},
			{Role: "user", Content: llm.BuildPrompt(query, background)},
		},
		Temperature: a.s.Temperature,
		MaxTokens:   a.s.MaxTokens,
	}

	req := api.NewRequest(http.MethodPost, "/chat/completions").
		WithContext(ctx).
		WithBody(body).
		WithTimeout(requestTimeout)
	if a.s.APIKey != "" {
		req.WithHeader("Authorization", "Bearer "+a.s.APIKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var r chatResponse
	if err := resp.ParseJSON(&r); err != nil {
		return "", err
	}
	if len(r.Choices) == 0 {
		return "", errors.New("chat completion: no choices")
	}
	return strings.TrimSpace(r.Choices[0].Message.Content), nil
}
