package chatmemory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
)

// OpenAILLMProvider implements LLMProvider with OpenAI chat completions.
type OpenAILLMProvider struct {
	client OpenAIClientProvider
	model  string
}

// OpenAIProviderConfig holds configuration for OpenAI provider.
type OpenAIProviderConfig struct {
	// Client is the OpenAIClientProvider implementation to use
	Client OpenAIClientProvider
	// Model specifies which OpenAI model to use (e.g., "gpt-4", "gpt-3.5-turbo")
	Model string
}

// NewOpenAILLMProvider creates a new OpenAI provider with the specified configuration.
// If no model is specified, it defaults to GPT-3.5-turbo.
func NewOpenAILLMProvider(config OpenAIProviderConfig) *OpenAILLMProvider {
	if config.Model == "" {
		config.Model = string(openai.ChatModelGPT3_5Turbo)
	}

	return &OpenAILLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

// convertToOpenAIMessages converts internal message format to OpenAI's format
func (p *OpenAILLMProvider) convertToOpenAIMessages(messages []LLMMessage) []openai.ChatCompletionMessageParamUnion {
	openAIMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case LLMSystemRole:
			openAIMessages = append(openAIMessages, openai.SystemMessage(msg.Text))
		case LLMAssistantRole:
			openAIMessages = append(openAIMessages, openai.AssistantMessage(msg.Text))
		default:
			openAIMessages = append(openAIMessages, openai.UserMessage(msg.Text))
		}
	}
	return openAIMessages
}

// createCompletionParams creates OpenAI API parameters from request config
func (p *OpenAILLMProvider) createCompletionParams(messages []openai.ChatCompletionMessageParamUnion, config LLMRequestConfig) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:  openai.F(messages),
		Model:     openai.F(p.model),
		MaxTokens: openai.Int(config.MaxToken),
	}
	if config.TopP > 0 {
		params.TopP = openai.Float(config.TopP)
	}
	if config.Temperature > 0 {
		params.Temperature = openai.Float(config.Temperature)
	}
	return params
}

// GetResponse generates a response using OpenAI's API for the given messages.
func (p *OpenAILLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()

	params := p.createCompletionParams(p.convertToOpenAIMessages(messages), config)
	completion, err := p.client.CreateCompletion(ctx, params)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("openai completion request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return LLMResponse{}, errors.New("openai completion returned no choices")
	}

	return LLMResponse{
		Text:             strings.TrimSpace(completion.Choices[0].Message.Content),
		TotalInputToken:  int(completion.Usage.PromptTokens),
		TotalOutputToken: int(completion.Usage.CompletionTokens),
		CompletionTime:   time.Since(startTime).Seconds(),
	}, nil
}
