package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "User Question: why?", BuildPrompt("why?", "  "))
	assert.Equal(t, "Captured Context:\nAAPL 150\n\nUser Question: why?", BuildPrompt("why?", "AAPL 150\n"))
}

func TestAPIKey(t *testing.T) {
	env := map[string]string{"OPENAI_API_KEY": "sk-openai"}
	getenv := func(k string) string { return env[k] }

	assert.Equal(t, "sk-openai", APIKey(getenv, "OPENAI_API_KEY"))
	assert.Equal(t, "", APIKey(getenv, ""))

	env["LLM_API_KEY"] = "sk-generic"
	assert.Equal(t, "sk-generic", APIKey(getenv, "OPENAI_API_KEY"))
}
