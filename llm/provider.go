// Package llm provides the chat-model layer: a provider interface, the
// Gemini implementation, complexity-based model routing, reranking, and
// robust JSON extraction from model output.
package llm

import (
	"context"
	"time"
)

// Message is one turn of model input.
type Message struct {
	Role    string `json:"role"` // user, assistant, tool
	Content string `json:"content"`
}

// Request describes one model call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	JSONMode    bool
	Temperature float32
	MaxTokens   int
}

// Response carries the model output and token accounting.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Provider is the interface all chat-model backends implement.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}
