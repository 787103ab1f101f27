// Package tools is the catalogue of operations exposed to the agent layer.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"ibkr-copilot/internal/metrics"
)

// codec sorts map keys so rendered results are stable.
var codec = sonic.ConfigStd

// ErrUnknownTool is returned by Call for a name that was never registered.
var ErrUnknownTool = errors.New("tool not found")

// Annotations are behaviour hints for agent clients.
type Annotations struct {
	Title           string `json:"title"`
	ReadOnlyHint    bool   `json:"readOnlyHint"`
	DestructiveHint bool   `json:"destructiveHint"`
	OpenWorldHint   bool   `json:"openWorldHint"`
}

// Definition is the published description of a tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Annotations *Annotations   `json:"annotations,omitempty"`
}

// Handler executes a tool with its raw JSON arguments.
type Handler func(ctx context.Context, args []byte) (any, error)

type Tool struct {
	Definition
	Handler Handler
}

// Registry holds tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.Register(tools...)
	return r
}

// Register adds tools. A tool with an already registered name replaces the
// earlier one and keeps its position.
func (r *Registry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if _, exists := r.tools[t.Name]; !exists {
			r.order = append(r.order, t.Name)
		}
		r.tools[t.Name] = t
	}
}

// Definitions lists every tool definition in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Call runs the named tool.
func (r *Registry) Call(ctx context.Context, name string, args []byte) (any, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	res, err := t.Handler(ctx, args)
	metrics.ToolCall(name, err)
	return res, err
}

// Render turns a tool outcome into the text handed back to the agent. Errors
// become {"error": reason}.
func Render(v any, err error) (text string, isError bool) {
	if err != nil {
		b, _ := codec.Marshal(map[string]string{"error": err.Error()})
		return string(b), true
	}
	if s, ok := v.(string); ok {
		return s, false
	}
	b, merr := codec.MarshalIndent(v, "", "  ")
	if merr != nil {
		b, _ = codec.Marshal(map[string]string{"error": "failed to encode result: " + merr.Error()})
		return string(b), true
	}
	return string(b), false
}

// decode unmarshals tool arguments. Missing arguments decode as an empty object.
func decode(args []byte, v any) error {
	args = bytes.TrimSpace(args)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		return nil
	}
	if err := codec.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Schema helpers.

func object(required []string, props map[string]any) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values, "description": desc}
}

func array(itemType, desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": itemType}, "description": desc}
}

func readOnly(title string, openWorld bool) *Annotations {
	return &Annotations{Title: title, ReadOnlyHint: true, OpenWorldHint: openWorld}
}
