// Package llm wraps an unreliable completion capability with bounded retry,
// optional single-shot fallback, and per-error-class counters.
package llm

import "context"

// Message is one turn of conversation context. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params describes one completion request.
type Params struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int64     `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Result is a successful completion.
type Result struct {
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
}

// Completer is the raw provider capability. It has no retry semantics of its
// own; a single call either succeeds or returns an error.
type Completer interface {
	Complete(ctx context.Context, p Params) (*Result, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, p Params) (*Result, error)

func (f CompleterFunc) Complete(ctx context.Context, p Params) (*Result, error) {
	return f(ctx, p)
}
