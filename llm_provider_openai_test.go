package chatmemory

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// mockTransport answers every request with a fixed status and body and keeps
// the last request body.
type mockTransport struct {
	status      int
	body        string
	lastRequest []byte
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		m.lastRequest, _ = io.ReadAll(req.Body)
	}
	return &http.Response{
		StatusCode: m.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(m.body)),
		Request:    req,
	}, nil
}

func newMockOpenAIClient(transport http.RoundTripper) *OpenAIClient {
	return NewOpenAIClient("test-key",
		option.WithHTTPClient(&http.Client{Transport: transport}),
		option.WithMaxRetries(0),
	)
}

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-3.5-turbo",
	"choices": [{
		"index": 0,
		"finish_reason": "stop",
		"message": {"role": "assistant", "content": "  Hello from OpenAI  "}
	}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`

func TestOpenAILLMProvider_NewOpenAILLMProvider(t *testing.T) {
	tests := []struct {
		name          string
		model         string
		expectedModel string
	}{
		{name: "default model", expectedModel: string(openai.ChatModelGPT3_5Turbo)},
		{name: "custom model", model: "gpt-4o-mini", expectedModel: "gpt-4o-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewOpenAILLMProvider(OpenAIProviderConfig{
				Client: newMockOpenAIClient(&mockTransport{status: http.StatusOK, body: completionBody}),
				Model:  tt.model,
			})
			assert.Equal(t, tt.expectedModel, provider.model)
		})
	}
}

func TestOpenAILLMProvider_GetResponse(t *testing.T) {
	transport := &mockTransport{status: http.StatusOK, body: completionBody}
	provider := NewOpenAILLMProvider(OpenAIProviderConfig{Client: newMockOpenAIClient(transport)})

	messages := []LLMMessage{
		{Role: LLMSystemRole, Text: "Be brief."},
		{Role: LLMUserRole, Text: "Hi"},
		{Role: LLMAssistantRole, Text: "Hello"},
		{Role: LLMUserRole, Text: "Again"},
	}

	result, err := provider.GetResponse(context.Background(), messages, LLMRequestConfig{MaxToken: 64, Temperature: 0.3})
	require.NoError(t, err)

	assert.Equal(t, "Hello from OpenAI", result.Text)
	assert.Equal(t, 12, result.TotalInputToken)
	assert.Equal(t, 4, result.TotalOutputToken)

	sent := transport.lastRequest
	require.True(t, gjson.ValidBytes(sent))

	assert.Equal(t, string(openai.ChatModelGPT3_5Turbo), gjson.GetBytes(sent, "model").String())
	assert.Equal(t, int64(64), gjson.GetBytes(sent, "max_tokens").Int())
	assert.Equal(t, 0.3, gjson.GetBytes(sent, "temperature").Float())
	require.Len(t, gjson.GetBytes(sent, "messages").Array(), 4)
	assert.Equal(t, "system", gjson.GetBytes(sent, "messages.0.role").String())
	assert.Equal(t, "assistant", gjson.GetBytes(sent, "messages.2.role").String())
	assert.Equal(t, "Be brief.", gjson.GetBytes(sent, "messages.0.content.0.text").String())
	assert.Equal(t, "Again", gjson.GetBytes(sent, "messages.3.content.0.text").String())
}

func TestOpenAILLMProvider_GetResponseErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{
			name:   "api error",
			status: http.StatusUnauthorized,
			body:   `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`,
		},
		{
			name:   "no choices",
			status: http.StatusOK,
			body:   `{"id": "chatcmpl-2", "object": "chat.completion", "choices": [], "usage": {}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewOpenAILLMProvider(OpenAIProviderConfig{
				Client: newMockOpenAIClient(&mockTransport{status: tt.status, body: tt.body}),
			})

			_, err := provider.GetResponse(context.Background(), []LLMMessage{{Role: LLMUserRole, Text: "Hi"}}, DefaultLLMRequestConfig)
			assert.Error(t, err)
		})
	}
}
