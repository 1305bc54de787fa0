package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Default endpoints for the OpenAI-compatible surfaces of the two
// providers the answer engine routes between.
const (
	QwenBaseURL   = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

	ProviderQwen   = "qwen"
	ProviderGemini = "gemini"
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	name   string
	client *openai.Client
}

var _ Provider = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// An empty baseURL keeps the library default (api.openai.com).
func NewOpenAIClient(name, baseURL, apiKey string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
	}
}

// NewQwen creates a client for Qwen models through the DashScope
// OpenAI-compatible endpoint.
func NewQwen(apiKey string) *OpenAIClient {
	return NewOpenAIClient(ProviderQwen, QwenBaseURL, apiKey)
}

// NewGemini creates a client for Gemini models through the
// generativelanguage OpenAI-compatible endpoint. Gemini uses a
// different path prefix than standard OpenAI providers (no /v1).
func NewGemini(apiKey string) *OpenAIClient {
	return NewOpenAIClient(ProviderGemini, GeminiBaseURL, apiKey)
}

// Name identifies the provider in logs and response metadata.
func (c *OpenAIClient) Name() string { return c.name }

// Chat sends a completion request and returns the first choice.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	creq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseMIMEType == "application/json" {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s chat completion: empty choices", c.name)
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content:          choice.Message.Content,
		Model:            resp.Model,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}
