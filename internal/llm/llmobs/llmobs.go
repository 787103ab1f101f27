package llmobs

import (
	"context"
	"time"

	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/trace"
)

// observableAnswerer wraps an Answerer with logging and tracing
type observableAnswerer struct {
	answerer interfaces.Answerer
}

// Compile-time interface check
var _ interfaces.Answerer = (*observableAnswerer)(nil)

// Wrap wraps an answerer with observability middleware
func Wrap(answerer interfaces.Answerer) interfaces.Answerer {
	return &observableAnswerer{answerer: answerer}
}

func (oa *observableAnswerer) Answer(ctx context.Context, query, background string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Answer")
	defer span.End()

	// Use DebugSkip(1) to report the actual caller, not this middleware wrapper
	logger.DebugSkip(ctx, 1, "Requesting answer",
		"query_len", len(query),
		"context_len", len(background),
	)

	start := time.Now()
	answer, err := oa.answerer.Answer(ctx, query, background)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get answer", err, "duration_ms", time.Since(start).Milliseconds())
		return "", err
	}

	logger.InfoSkip(ctx, 1, "Answer received",
		"answer_len", len(answer),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return answer, nil
}
