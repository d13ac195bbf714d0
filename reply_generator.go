package chatmemory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ReplyGenerator produces the assistant reply for a user turn. prior is the
// history before the user message was appended.
type ReplyGenerator interface {
	Generate(ctx context.Context, userContent string, prior Transcript) (string, error)
}

// ReplyGeneratorFunc adapts a function to ReplyGenerator.
type ReplyGeneratorFunc func(ctx context.Context, userContent string, prior Transcript) (string, error)

// Generate calls f.
func (f ReplyGeneratorFunc) Generate(ctx context.Context, userContent string, prior Transcript) (string, error) {
	return f(ctx, userContent, prior)
}

var replyTemplates = []string{
	`I understand you said: "%s"`,
	`That's interesting about: "%s"`,
	`I received your message: "%s"`,
}

// TemplateReplyGenerator is the placeholder generator used when no model is
// configured. It echoes the user message in one of a few fixed phrasings.
type TemplateReplyGenerator struct {
	mu   sync.Mutex
	pick func(n int) int
}

// TemplateOption configures a TemplateReplyGenerator.
type TemplateOption func(*TemplateReplyGenerator)

// WithTemplatePicker replaces the random template choice; pick receives the
// number of templates and returns an index.
func WithTemplatePicker(pick func(n int) int) TemplateOption {
	return func(g *TemplateReplyGenerator) {
		g.pick = pick
	}
}

// NewTemplateReplyGenerator returns a generator choosing templates at random.
func NewTemplateReplyGenerator(opts ...TemplateOption) *TemplateReplyGenerator {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	g := &TemplateReplyGenerator{pick: rng.Intn}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements ReplyGenerator.
func (g *TemplateReplyGenerator) Generate(_ context.Context, userContent string, prior Transcript) (string, error) {
	g.mu.Lock()
	idx := g.pick(len(replyTemplates))
	g.mu.Unlock()

	if idx < 0 || idx >= len(replyTemplates) {
		idx = 0
	}

	reply := fmt.Sprintf(replyTemplates[idx], userContent)
	return fmt.Sprintf("%s. This is message #%d in our conversation.", reply, prior.UserCount()+1), nil
}

// LLMReplyGenerator asks a language model for the reply, sending the prior
// transcript as conversation context.
type LLMReplyGenerator struct {
	request      *LLMRequest
	systemPrompt string
}

// LLMReplyOption configures an LLMReplyGenerator.
type LLMReplyOption func(*LLMReplyGenerator)

// WithSystemPrompt prepends a system message to every request.
func WithSystemPrompt(prompt string) LLMReplyOption {
	return func(g *LLMReplyGenerator) {
		g.systemPrompt = prompt
	}
}

// NewLLMReplyGenerator wraps provider in tracing and binds it to config.
func NewLLMReplyGenerator(provider LLMProvider, config LLMRequestConfig, opts ...LLMReplyOption) *LLMReplyGenerator {
	g := &LLMReplyGenerator{
		request: NewLLMRequest(config, NewTracingLLMProvider(provider)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements ReplyGenerator.
func (g *LLMReplyGenerator) Generate(ctx context.Context, userContent string, prior Transcript) (string, error) {
	messages := make([]LLMMessage, 0, len(prior)+2)
	if g.systemPrompt != "" {
		messages = append(messages, LLMMessage{Role: LLMSystemRole, Text: g.systemPrompt})
	}
	for _, m := range prior {
		role := LLMUserRole
		if m.Role == AssistantRole {
			role = LLMAssistantRole
		}
		messages = append(messages, LLMMessage{Role: role, Text: m.Content})
	}
	messages = append(messages, LLMMessage{Role: LLMUserRole, Text: userContent})

	response, err := g.request.Generate(ctx, messages)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(response.Text)
	if text == "" {
		return "", errors.New("language model returned an empty reply")
	}
	return text, nil
}
