package news

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/trace"
	"ibkr-copilot/internal/types"
)

const defaultBriefingQuestion = "Summarize the market-moving themes in these headlines in a few bullet points."

// Briefer asks the analyst model to summarize a feed.
type Briefer struct {
	source   interfaces.HeadlineSource
	answerer interfaces.Answerer
}

func NewBriefer(source interfaces.HeadlineSource, answerer interfaces.Answerer) *Briefer {
	return &Briefer{source: source, answerer: answerer}
}

// Brief fetches headlines from feed and returns the model's answer to
// question about them.
func (b *Briefer) Brief(ctx context.Context, feed string, limit int, question string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "news.Brief")
	defer span.End()

	headlines, err := b.source.Headlines(ctx, feed, limit)
	if err != nil {
		return "", err
	}
	if len(headlines) == 0 {
		return "", errors.New("feed returned no headlines")
	}
	if strings.TrimSpace(question) == "" {
		question = defaultBriefingQuestion
	}
	answer, err := b.answerer.Answer(ctx, question, FormatHeadlines(headlines))
	if err != nil {
		return "", fmt.Errorf("briefing: %w", err)
	}
	return answer, nil
}

// FormatHeadlines renders headlines as the plain-text context handed to the
// model, one per line.
func FormatHeadlines(headlines []types.Headline) string {
	var sb strings.Builder
	for i, h := range headlines {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, h.Source, h.Title)
		if h.PublishedAt != "" {
			fmt.Fprintf(&sb, " (%s)", h.PublishedAt)
		}
		if h.Summary != "" {
			sb.WriteString(" - ")
			sb.WriteString(h.Summary)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
