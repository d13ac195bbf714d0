package chatmemory

import (
	"context"
	"sync"
)

// NoOpsLLMProvider returns a fixed response. It backs the "noop" reply provider
// and tests that need an LLMProvider without a network.
type NoOpsLLMProvider struct {
	response LLMResponse
	err      error

	mu    sync.Mutex
	calls [][]LLMMessage
}

// NoOpsOption defines the function signature for option pattern.
type NoOpsOption func(*NoOpsLLMProvider)

// WithResponse sets a custom LLMResponse for the NoOpsProvider.
func WithResponse(response LLMResponse) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.response = response
	}
}

// WithError makes every call fail with err.
func WithError(err error) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.err = err
	}
}

// NewNoOpsLLMProvider creates a new NoOpsLLMProvider with optional configurations.
func NewNoOpsLLMProvider(opts ...NoOpsOption) *NoOpsLLMProvider {
	provider := &NoOpsLLMProvider{
		response: LLMResponse{
			Text:             "Default NoOps response",
			TotalInputToken:  10,
			TotalOutputToken: 3,
			CompletionTime:   0.1,
		},
	}

	for _, opt := range opts {
		opt(provider)
	}

	return provider
}

// GetResponse implements the LLMProvider interface and records the messages it
// was called with.
func (n *NoOpsLLMProvider) GetResponse(_ context.Context, messages []LLMMessage, _ LLMRequestConfig) (LLMResponse, error) {
	n.mu.Lock()
	n.calls = append(n.calls, messages)
	n.mu.Unlock()
	if n.err != nil {
		return LLMResponse{}, n.err
	}
	return n.response, nil
}

// Calls returns the message lists passed to GetResponse so far.
func (n *NoOpsLLMProvider) Calls() [][]LLMMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]LLMMessage(nil), n.calls...)
}
