package tools

import (
	"context"
	"errors"

	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/types"
)

const defaultNewsLimit = 10

// AnalystTools exposes the language model.
func AnalystTools(answerer interfaces.Answerer) []Tool {
	return []Tool{{
		Definition: Definition{
			Name:        "ask_analyst",
			Description: "Ask the desk analyst model a question. Pass any captured page, portfolio or news text as context so the answer can refer to it.",
			InputSchema: object([]string{"query"}, map[string]any{
				"query":   prop("string", "The question to answer."),
				"context": prop("string", "Optional supporting material (captured page text, positions, headlines)."),
			}),
			Annotations: readOnly("Ask Analyst", true),
		},
		Handler: func(ctx context.Context, args []byte) (any, error) {
			var a struct {
				Query   string `json:"query"`
				Context string `json:"context"`
			}
			if err := decode(args, &a); err != nil {
				return nil, err
			}
			if a.Query == "" {
				return nil, errors.New("query is required")
			}
			answer, err := answerer.Answer(ctx, a.Query, a.Context)
			if err != nil {
				return nil, err
			}
			return map[string]string{"answer": answer}, nil
		},
	}}
}

// Briefer summarizes a feed's headlines.
type Briefer interface {
	Brief(ctx context.Context, feed string, limit int, question string) (string, error)
}

type newsArgs struct {
	Feed     string `json:"feed"`
	Limit    int    `json:"limit"`
	Question string `json:"question"`
}

func (a *newsArgs) normalize() {
	if a.Limit <= 0 {
		a.Limit = defaultNewsLimit
	}
}

// NewsTools exposes the headline service. summarize_market_news is only
// registered when briefer is non-nil.
func NewsTools(src interfaces.HeadlineSource, briefer Briefer) []Tool {
	feedProps := func() map[string]any {
		feed := prop("string", "News feed to read. Defaults to the configured feed.")
		if feeds := src.Feeds(); len(feeds) > 0 {
			feed = enum("News feed to read. Defaults to the configured feed.", feeds...)
		}
		return map[string]any{
			"feed":  feed,
			"limit": prop("integer", "Maximum number of headlines (default 10)."),
		}
	}

	out := []Tool{{
		Definition: Definition{
			Name:        "get_market_news",
			Description: "Get the latest market headlines from a news feed, with title, link, short summary and publication time.",
			InputSchema: object(nil, feedProps()),
			Annotations: readOnly("Get Market News", true),
		},
		Handler: func(ctx context.Context, args []byte) (any, error) {
			var a newsArgs
			if err := decode(args, &a); err != nil {
				return nil, err
			}
			a.normalize()
			headlines, err := src.Headlines(ctx, a.Feed, a.Limit)
			if err != nil {
				return nil, err
			}
			if headlines == nil {
				headlines = []types.Headline{}
			}
			return map[string]any{"feed": a.Feed, "headlines": headlines}, nil
		},
	}}

	if briefer == nil {
		return out
	}

	props := feedProps()
	props["question"] = prop("string", "Optional angle for the briefing (e.g., 'impact on tech stocks').")
	return append(out, Tool{
		Definition: Definition{
			Name:        "summarize_market_news",
			Description: "Summarize the latest headlines of a feed with the analyst model.",
			InputSchema: object(nil, props),
			Annotations: readOnly("Summarize Market News", true),
		},
		Handler: func(ctx context.Context, args []byte) (any, error) {
			var a newsArgs
			if err := decode(args, &a); err != nil {
				return nil, err
			}
			a.normalize()
			summary, err := briefer.Brief(ctx, a.Feed, a.Limit, a.Question)
			if err != nil {
				return nil, err
			}
			return map[string]string{"feed": a.Feed, "summary": summary}, nil
		},
	})
}
