// Package llm holds what the answer providers share.
package llm

import (
	"errors"
	"strings"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are an expert financial AI assistant."

// ErrMissingAPIKey is returned by providers that need a key and have none.
var ErrMissingAPIKey = errors.New("LLM API key missing")

// BuildPrompt combines the user question with the captured background
// material.
func BuildPrompt(query, background string) string {
	background = strings.TrimSpace(background)
	if background == "" {
		return "User Question: " + query
	}
	return "Captured Context:\n" + background + "\n\nUser Question: " + query
}

// APIKey returns the key from LLM_API_KEY, falling back to fallbackEnv.
func APIKey(getenv func(string) string, fallbackEnv string) string {
	if k := getenv("LLM_API_KEY"); k != "" {
		return k
	}
	if fallbackEnv == "" {
		return ""
	}
	return getenv(fallbackEnv)
}
