package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nidhogg/smallville/internal/embedding"
	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/prompt"
)

// OpenAIGateway talks to an OpenAI-compatible chat completions API over
// plain HTTP.
type OpenAIGateway struct {
	config   Config
	client   *http.Client
	embedder embedding.Provider
}

// NewOpenAIGateway creates a gateway for an OpenAI-compatible API.
func NewOpenAIGateway(cfg Config) (*OpenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg = cfg.withDefaults("https://api.openai.com/v1")
	if cfg.Model == "" {
		cfg.Model = defaultChatModel
	}
	client := &http.Client{Timeout: cfg.Timeout}
	emb, err := cfg.embedder(client)
	if err != nil {
		return nil, err
	}
	return &OpenAIGateway{config: cfg, client: client, embedder: emb}, nil
}

func (g *OpenAIGateway) ID() string { return g.config.ID }

// chatURL builds the chat completions URL. If Extra["path_model"] is "true",
// the model name is inserted into the URL path.
func (g *OpenAIGateway) chatURL() string {
	if g.config.Extra["path_model"] == "true" {
		return g.config.Endpoint + "/" + g.config.Model + "/chat/completions"
	}
	return g.config.Endpoint + "/chat/completions"
}

type openAIChatRequest struct {
	Model       string           `json:"model"`
	Messages    []prompt.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
}

// Choices is a pointer so a reply without the field can be told apart from
// an empty list; both count as no completion.
type openAIChatResponse struct {
	Choices *[]openAIChoice `json:"choices"`
}

type openAIChoice struct {
	Message prompt.Message `json:"message"`
}

// SendChat posts p as a single message and returns the first completion.
func (g *OpenAIGateway) SendChat(ctx context.Context, p prompt.Prompt, temperature float64) (string, error) {
	body, err := json.Marshal(openAIChatRequest{
		Model:       g.config.Model,
		Messages:    p.Messages(),
		Temperature: temperature,
		MaxTokens:   g.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.chatURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", errs.Transport("chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError("chat", resp)
	}

	var oaiResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return "", errs.Malformed("chat", "decode response: %v", err)
	}
	if oaiResp.Choices == nil || len(*oaiResp.Choices) == 0 {
		return "", errs.AuthOrRateLimit("chat", "invalid api token or rate limit reached")
	}
	return (*oaiResp.Choices)[0].Message.Content, nil
}

// Embed returns the embedding of text.
func (g *OpenAIGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedding.One(ctx, g.embedder, text)
}
