package llm

import (
	"context"
	"sync"
)

// MockProvider returns scripted responses for tests. Responses and
// errors queued via Queue and QueueErr are consumed in FIFO order; an
// empty queue echoes the last user message.
type MockProvider struct {
	mu    sync.Mutex
	name  string
	queue []mockStep
	calls []ChatRequest
}

type mockStep struct {
	content string
	err     error
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock provider reporting the given name.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

// Name identifies the provider in logs and response metadata.
func (m *MockProvider) Name() string { return m.name }

// Queue appends a scripted completion.
func (m *MockProvider) Queue(content string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockStep{content: content})
	return m
}

// QueueErr appends a scripted failure.
func (m *MockProvider) QueueErr(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockStep{err: err})
	return m
}

// Calls returns every request the mock has received.
func (m *MockProvider) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Chat pops the next scripted step, or echoes the last user message
// when the script is exhausted.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	var step mockStep
	scripted := len(m.queue) > 0
	if scripted {
		step = m.queue[0]
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()

	if scripted {
		if step.err != nil {
			return nil, step.err
		}
		return m.completion(step.content, req), nil
	}

	echo := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			echo = req.Messages[i].Content
			break
		}
	}
	return m.completion(echo, req), nil
}

func (m *MockProvider) completion(content string, req ChatRequest) *ChatResponse {
	promptLen := 0
	for _, msg := range req.Messages {
		promptLen += len(msg.Content)
	}
	return &ChatResponse{
		Content:          content,
		Model:            req.Model,
		FinishReason:     "stop",
		PromptTokens:     promptLen / 4,
		CompletionTokens: len(content) / 4,
		TotalTokens:      (promptLen + len(content)) / 4,
	}
}
