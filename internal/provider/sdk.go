package provider

import (
	"context"
	"errors"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/prompt"
)

// SDKGateway talks to OpenAI through the official Go SDK. Retries are left
// to the Router so a failing call is reported once.
type SDKGateway struct {
	config Config
	client oai.Client
}

// NewSDKGateway creates an SDK-backed gateway.
func NewSDKGateway(cfg Config) (*SDKGateway, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg = cfg.withDefaults("")
	if cfg.Model == "" {
		cfg.Model = defaultChatModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.Endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.Endpoint))
	}
	return &SDKGateway{config: cfg, client: oai.NewClient(reqOpts...)}, nil
}

func (g *SDKGateway) ID() string { return g.config.ID }

// SendChat sends p as a user message and returns the first choice.
func (g *SDKGateway) SendChat(ctx context.Context, p prompt.Prompt, temperature float64) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(g.config.Model),
		Messages:    []oai.ChatCompletionMessageParamUnion{oai.UserMessage(p.Content())},
		Temperature: param.NewOpt(temperature),
		MaxTokens:   param.NewOpt(int64(g.config.MaxTokens)),
	})
	if err != nil {
		return "", classifySDK("chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.AuthOrRateLimit("chat", "invalid api token or rate limit reached")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding of text.
func (g *SDKGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: g.config.EmbeddingModel,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, classifySDK("embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, errs.Malformed("embed", "empty response")
	}
	return float64ToFloat32(resp.Data[0].Embedding), nil
}

func classifySDK(op string, err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(op, apiErr.StatusCode, apiErr.Message)
	}
	return errs.Transport(op, err)
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
