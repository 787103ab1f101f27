package noop

import (
	"context"

	"ibkr-copilot/internal/logger"
)

// Reply is returned for every question.
const Reply = "No LLM provider is configured. Set llm.provider (OPENAI, GEMINI or LOCAL) to enable analysis."

// Answerer is the fallback used when no provider is configured.
type Answerer struct{}

func New() *Answerer {
	return &Answerer{}
}

func (a *Answerer) Answer(ctx context.Context, query, _ string) (string, error) {
	logger.Debug(ctx, "Noop answerer called", "query_len", len(query))
	return Reply, nil
}
