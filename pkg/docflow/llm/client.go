// Package llm provides the LLM client boundary used by the Analyze, Recommend
// and Synthesize stages.
//
// Client is the minimal completion interface. AnthropicClient implements it
// over the Anthropic Messages API; MockClient is a scripted test double.
// Resilient wraps any Client with rate limiting, per-attempt timeouts and
// classification-based retry, and CompleteJSON decodes structured output
// inside the retry loop so malformed responses are retried too.
package llm

import (
	"context"
	"time"
)

// Client completes prompts. Implementations return *TransientError for
// failures worth retrying and *FatalError for everything else.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request configures a completion call.
type Request struct {
	// System is the system prompt.
	System string `json:"system,omitempty"`
	// Prompt is the single user turn.
	Prompt string `json:"prompt"`

	// Model overrides the client's default model.
	Model string `json:"model,omitempty"`
	// MaxTokens overrides the client's default output budget.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Temperature is left to the provider default when nil.
	Temperature *float64 `json:"temperature,omitempty"`
}

// Response is the output of a completion call.
type Response struct {
	Content    string        `json:"content"`
	Model      string        `json:"model"`
	StopReason string        `json:"stop_reason,omitempty"`
	Usage      TokenUsage    `json:"usage"`
	Duration   time.Duration `json:"duration"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
