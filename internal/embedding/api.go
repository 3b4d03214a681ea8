package embedding

import (
	"context"
	"net/http"

	"github.com/nidhogg/smallville/internal/errs"
)

// APIProvider implements Provider using an OpenAI-compatible embeddings API.
type APIProvider struct {
	*dimension
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewAPIProvider creates a new APIProvider from the given Config.
func NewAPIProvider(cfg Config, client *http.Client) *APIProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &APIProvider{
		dimension: &dimension{configured: cfg.Dimension},
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		client:    client,
	}
}

// apiRequest sends a single text as a plain string and batches as an array.
type apiRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type apiResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	var result apiResponse
	if err := postJSON(ctx, p.client, p.endpoint+"/embeddings", p.apiKey,
		apiRequest{Model: p.model, Input: input}, &result); err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, errs.Malformed("embedding", "%d embeddings for %d inputs", len(result.Data), len(texts))
	}

	// Some servers return data out of order; index is authoritative.
	embeddings := make([][]float32, len(texts))
	for i, d := range result.Data {
		at := i
		if d.Index >= 0 && d.Index < len(texts) && embeddings[d.Index] == nil {
			at = d.Index
		}
		embeddings[at] = d.Embedding
	}
	p.observe(embeddings)
	return embeddings, nil
}
