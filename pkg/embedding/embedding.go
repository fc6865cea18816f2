// Package embedding turns normalized text into fixed-length vectors through an
// OpenAI-compatible endpoint and compares them.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single embedding call.
const DefaultTimeout = 5 * time.Second

// ErrDimensionMismatch is returned when a provider yields a vector of an
// unexpected length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Provider produces an embedding for a piece of text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIProvider calls the /embeddings endpoint of an OpenAI-compatible API.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIProvider creates a provider. An empty baseURL keeps the library default.
func NewOpenAIProvider(baseURL, apiKey, model string, dimensions int) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}
}

// Embed implements Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("empty embedding response data")
	}
	return resp.Data[0].Embedding, nil
}

// Client wraps a Provider with a per-call timeout and maps every failure to
// an absent vector.
type Client struct {
	provider   Provider
	timeout    time.Duration
	dimensions int
	log        logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDimensions makes the client reject vectors of any other length.
func WithDimensions(n int) Option {
	return func(c *Client) { c.dimensions = n }
}

// WithLogger sets the logger used for failed calls.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient creates a Client around p.
func NewClient(p Provider, opts ...Option) *Client {
	c := &Client{
		provider: p,
		timeout:  DefaultTimeout,
		log:      logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Embed returns the vector for text, or false when none is available. A
// timeout, transport error or malformed response all read as "no embedding".
func (c *Client) Embed(ctx context.Context, text string) ([]float32, bool) {
	if c == nil || c.provider == nil || text == "" {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vec, err := c.provider.Embed(ctx, text)
	if err == nil {
		err = c.check(vec)
	}
	if err != nil {
		c.log.WithError(err).Debug("embedding unavailable")
		return nil, false
	}
	return vec, true
}

func (c *Client) check(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("empty vector")
	}
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), c.dimensions)
	}
	return nil
}
