package interfaces

import "context"

// Answerer produces a free-text answer to query using background as supporting material.
type Answerer interface {
	Answer(ctx context.Context, query, background string) (string, error)
}
