// Package llm is the language-model collaborator used to generate SQL,
// summarize result sets and adjudicate question equivalence.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Roles accepted in a conversation history.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one turn of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client generates text from a prompt and an optional history.
type Client interface {
	Generate(ctx context.Context, prompt string, history []Message) (string, error)
}

// ErrEmptyCompletion is returned when the model answers with no choices.
var ErrEmptyCompletion = errors.New("empty completion")

// OpenAI is a Client backed by an OpenAI-compatible chat completions API.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// Option configures the OpenAI client.
type Option func(*OpenAI)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *OpenAI) { o.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *OpenAI) { o.maxTokens = n }
}

// WithTimeout bounds each Generate call.
func WithTimeout(d time.Duration) Option {
	return func(o *OpenAI) { o.timeout = d }
}

// NewOpenAI creates a client for model. An empty baseURL keeps the library default.
func NewOpenAI(baseURL, apiKey, model string, opts ...Option) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	o := &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Model returns the configured model name.
func (o *OpenAI) Model() string {
	return o.model
}

// Generate sends history followed by prompt as a user message.
func (o *OpenAI) Generate(ctx context.Context, prompt string, history []Message) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: RoleUser, Content: prompt})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

var (
	fencedSQL  = regexp.MustCompile("(?is)```(?:sqlite|sql)?\\s*\\n?(.*?)```")
	sqlKeyword = regexp.MustCompile(`(?i)\b(select|with)\b`)
)

// ExtractSQL pulls a single SQL statement out of model output. A fenced code
// block wins; otherwise the text from the first SELECT or WITH keyword is
// used. The result is cut at the first semicolon.
func ExtractSQL(text string) string {
	s := text
	if m := fencedSQL.FindStringSubmatch(text); m != nil {
		s = m[1]
	} else if loc := sqlKeyword.FindStringIndex(text); loc != nil {
		s = text[loc[0]:]
	}
	if i := strings.Index(s, ";"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
