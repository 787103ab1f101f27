package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"ibkr-copilot/internal/api"
	"ibkr-copilot/internal/llm"
	"ibkr-copilot/internal/store"
	"ibkr-copilot/internal/trace"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-1.5-flash"
	requestTimeout = 60 * time.Second
)

// Answerer calls the Gemini generateContent API.
type Answerer struct {
	http        *api.Client
	model       string
	system      string
	temperature float32
	maxTokens   int
	apiKey      string
}

func New(httpClient *api.Client, model, system, apiKey string, temperature float32, maxTokens int) *Answerer {
	if model == "" {
		model = DefaultModel
	}
	if system == "" {
		system = llm.DefaultSystemPrompt
	}
	return &Answerer{
		http:        httpClient,
		model:       model,
		system:      system,
		temperature: temperature,
		maxTokens:   maxTokens,
		apiKey:      apiKey,
	}
}

func NewFromConfig(cfg *store.Config) *Answerer {
	base := cfg.LLM.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	model := cfg.LLM.Model
	if strings.HasPrefix(model, "gpt-") {
		// the shared default model name belongs to another provider
		model = DefaultModel
	}
	httpClient := api.NewClient(
		api.WithBaseURL(strings.TrimRight(base, "/")),
		api.WithTimeout(requestTimeout),
	)
	return New(httpClient, model, cfg.LLM.System, llm.APIKey(os.Getenv, "GEMINI_API_KEY"), cfg.LLM.Temperature, cfg.LLM.MaxTokens)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (a *Answerer) Answer(ctx context.Context, query, background string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "gemini-api-call")
	defer span.End()

	if a.apiKey == "" {
		return "", llm.ErrMissingAPIKey
	}

	body := generateRequest{
		Contents: []content{{Parts: []part{{Text: a.system + "\n\n" + llm.BuildPrompt(query, background)}}}},
		GenerationConfig: generationConfig{
			Temperature:     a.temperature,
			MaxOutputTokens: a.maxTokens,
		},
	}

	path := "/models/" + url.PathEscape(a.model) + ":generateContent"
	req := api.NewRequest(http.MethodPost, path).
		WithContext(ctx).
		WithBody(body).
		WithQuery("key", a.apiKey).
		WithTimeout(requestTimeout)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	var r generateResponse
	if err := resp.ParseJSON(&r); err != nil {
		return "", err
	}
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini generate: empty response")
	}

	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}
