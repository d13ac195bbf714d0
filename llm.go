package chatmemory

import (
	"context"
)

// LLMMessageRole is the role of a message sent to a language model.
type LLMMessageRole string

const (
	LLMSystemRole    LLMMessageRole = "system"
	LLMUserRole      LLMMessageRole = "user"
	LLMAssistantRole LLMMessageRole = "assistant"
)

// LLMMessage is one prompt message for a language model.
type LLMMessage struct {
	Role LLMMessageRole
	Text string
}

// LLMResponse is the result of one model call.
type LLMResponse struct {
	Text             string
	TotalInputToken  int
	TotalOutputToken int
	CompletionTime   float64
}

// LLMProvider is a language model backend.
type LLMProvider interface {
	GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error)
}

// LLMRequestConfig holds sampling parameters. Zero TopP and Temperature leave
// the provider default in place.
type LLMRequestConfig struct {
	MaxToken    int64
	TopP        float64
	Temperature float64
}

// DefaultLLMRequestConfig keeps replies short; chat turns are conversational.
var DefaultLLMRequestConfig = LLMRequestConfig{
	MaxToken:    512,
	Temperature: 0.7,
}

// RequestOption modifies an LLMRequestConfig.
type RequestOption func(*LLMRequestConfig)

// WithMaxToken sets the maximum number of output tokens.
func WithMaxToken(maxToken int64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.MaxToken = maxToken
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.Temperature = temperature
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(topP float64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.TopP = topP
	}
}

// NewRequestConfig starts from DefaultLLMRequestConfig and applies opts.
func NewRequestConfig(opts ...RequestOption) LLMRequestConfig {
	config := DefaultLLMRequestConfig
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// LLMRequest binds a provider to a request configuration.
type LLMRequest struct {
	requestConfig LLMRequestConfig
	provider      LLMProvider
}

// NewLLMRequest creates a new LLMRequest with the specified configuration and provider.
//
// Example usage:
//
//	provider := NewAnthropicLLMProvider(AnthropicProviderConfig{
//	    Client: NewAnthropicClient("your-api-key"),
//	})
//	llm := NewLLMRequest(NewRequestConfig(WithMaxToken(256)), provider)
func NewLLMRequest(config LLMRequestConfig, provider LLMProvider) *LLMRequest {
	return &LLMRequest{
		requestConfig: config,
		provider:      provider,
	}
}

// Generate sends messages to the configured provider and returns the response.
func (r *LLMRequest) Generate(ctx context.Context, messages []LLMMessage) (LLMResponse, error) {
	return r.provider.GetResponse(ctx, messages, r.requestConfig)
}
