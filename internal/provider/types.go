// Package provider holds the model gateways: the only code that talks to a
// language model service.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nidhogg/smallville/internal/embedding"
	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/prompt"
)

// ErrMissingAPIKey is returned when a hosted gateway is built without a key.
var ErrMissingAPIKey = errors.New("provider: missing API key")

// Gateway turns a prompt into a completion and text into an embedding.
type Gateway interface {
	SendChat(ctx context.Context, p prompt.Prompt, temperature float64) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider is a named Gateway that can be registered with a Router.
type Provider interface {
	Gateway
	ID() string
}

// Config holds configuration for a gateway instance.
type Config struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"` // openai, openai-sdk, anthropic
	Name           string            `json:"name"`
	Endpoint       string            `json:"endpoint"`
	APIKey         string            `json:"api_key"`
	Model          string            `json:"model"`
	EmbeddingModel string            `json:"embedding_model"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Timeout        time.Duration     `json:"-"`
	Embedding      *embedding.Config `json:"embedding,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

const (
	defaultChatModel = "gpt-3.5-turbo"
	defaultMaxTokens = 1000
	defaultTimeout   = 120 * time.Second
)

func (c Config) withDefaults(endpoint string) Config {
	if c.Endpoint == "" {
		c.Endpoint = endpoint
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = embedding.DefaultModel
	}
	return c
}

// embedder builds the embedding client for a gateway. Without an explicit
// embedding section it reuses the chat endpoint and key.
func (c Config) embedder(client *http.Client) (embedding.Provider, error) {
	if c.Embedding != nil {
		return embedding.New(*c.Embedding, client)
	}
	return embedding.NewAPIProvider(embedding.Config{
		Endpoint: c.Endpoint,
		Model:    c.EmbeddingModel,
		APIKey:   c.APIKey,
	}, client), nil
}

// New builds the gateway named by cfg.Type.
func New(cfg Config) (Provider, error) {
	switch cfg.Type {
	case "", "openai":
		return NewOpenAIGateway(cfg)
	case "openai-sdk":
		return NewSDKGateway(cfg)
	case "anthropic":
		return NewAnthropicGateway(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// statusError classifies a non-2xx chat reply.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return classifyStatus(op, resp.StatusCode, string(body))
}

func classifyStatus(op string, status int, body string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return errs.AuthOrRateLimit(op, fmt.Sprintf("status %d: %s", status, body))
	}
	return errs.Transport(op, fmt.Errorf("status %d: %s", status, body))
}
