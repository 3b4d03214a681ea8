package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nidhogg/smallville/internal/embedding"
	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/prompt"
)

// AnthropicGateway sends chat prompts to the Claude messages API. Claude has
// no embeddings endpoint, so Embed goes to the configured embedding section.
type AnthropicGateway struct {
	config   Config
	client   *http.Client
	embedder embedding.Provider
}

// NewAnthropicGateway creates a gateway for the Claude messages API. An
// embedding section is required.
func NewAnthropicGateway(cfg Config) (*AnthropicGateway, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Embedding == nil {
		return nil, fmt.Errorf("provider %s: anthropic needs an embedding section", cfg.ID)
	}
	cfg = cfg.withDefaults("https://api.anthropic.com/v1")
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	client := &http.Client{Timeout: cfg.Timeout}
	emb, err := cfg.embedder(client)
	if err != nil {
		return nil, err
	}
	return &AnthropicGateway{config: cfg, client: client, embedder: emb}, nil
}

func (g *AnthropicGateway) ID() string { return g.config.ID }

type anthropicRequest struct {
	Model       string           `json:"model"`
	Messages    []prompt.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// SendChat posts p to /messages and returns the concatenated text blocks.
func (g *AnthropicGateway) SendChat(ctx context.Context, p prompt.Prompt, temperature float64) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:       g.config.Model,
		Messages:    p.Messages(),
		MaxTokens:   g.config.MaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.config.Endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", g.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", errs.Transport("chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError("chat", resp)
	}

	var claudeResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return "", errs.Malformed("chat", "decode response: %v", err)
	}

	var sb strings.Builder
	for _, c := range claudeResp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errs.AuthOrRateLimit("chat", "no text content in reply")
	}
	return sb.String(), nil
}

// Embed returns the embedding of text.
func (g *AnthropicGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedding.One(ctx, g.embedder, text)
}
