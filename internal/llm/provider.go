// Package llm routes answer-generation requests across chat providers.
// The primary explorer provider (Qwen via the DashScope OpenAI-compatible
// endpoint) is protected by a sliding RPM window; Gemini flash and pro
// models serve as the standard tier and the fallback ladder.
package llm

import (
	"context"
	"time"
)

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model            string
	Messages         []Message
	Temperature      float64
	MaxTokens        int
	ResponseMIMEType string // "application/json" requests structured output
	Timeout          time.Duration
}

// ChatResponse is the provider's completion plus usage accounting.
type ChatResponse struct {
	Content          string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is a single upstream chat endpoint.
type Provider interface {
	// Name identifies the provider in logs and response metadata.
	Name() string

	// Chat sends a completion request and returns the first choice.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
