package llm

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrProviderUnavailable indicates a transport-level failure.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAllProvidersFailed indicates every configured provider was
	// exhausted.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// TokenUsage is the token accounting for one completion.
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

// Request is one structured-output completion request.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Schema       *Schema
	MaxTokens    int
}

// RawResponse is the unparsed provider output.
type RawResponse struct {
	Text         string
	Tokens       TokenUsage
	FinishReason string
}

// Provider completes prompts against one backing model.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (RawResponse, error)
}

// MockProvider replays scripted outcomes in order, repeating the last one
// once the script runs out. Zero outcomes means every call fails.
type MockProvider struct {
	ProviderName string
	ModelName    string
	Outcomes     []Outcome

	mu    sync.Mutex
	calls int
}

// Outcome is one scripted MockProvider result.
type Outcome struct {
	Text string
	Err  error
}

func (m *MockProvider) Name() string  { return m.ProviderName }
func (m *MockProvider) Model() string { return m.ModelName }

// Calls reports how many completions were attempted.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) Complete(_ context.Context, _ Request) (RawResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if len(m.Outcomes) == 0 {
		return RawResponse{}, ErrProviderUnavailable
	}
	idx := m.calls - 1
	if idx >= len(m.Outcomes) {
		idx = len(m.Outcomes) - 1
	}
	out := m.Outcomes[idx]
	if out.Err != nil {
		return RawResponse{}, out.Err
	}
	return RawResponse{
		Text:         out.Text,
		Tokens:       TokenUsage{Prompt: 10, Completion: 20, Total: 30},
		FinishReason: "stop",
	}, nil
}
