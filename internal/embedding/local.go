package embedding

import (
	"context"
	"net/http"

	"github.com/nidhogg/smallville/internal/errs"
)

const defaultLocalEndpoint = "http://localhost:11434"

// LocalProvider implements Provider on an Ollama server's batch /api/embed
// endpoint.
type LocalProvider struct {
	*dimension
	endpoint string
	model    string
	client   *http.Client
}

// NewLocalProvider creates a new LocalProvider from the given Config.
func NewLocalProvider(cfg Config, client *http.Client) *LocalProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultLocalEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &LocalProvider{
		dimension: &dimension{configured: cfg.Dimension},
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		client:    client,
	}
}

type localRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends every text in one request.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var result localResponse
	if err := postJSON(ctx, p.client, p.endpoint+"/api/embed", "",
		localRequest{Model: p.model, Input: texts}, &result); err != nil {
		return nil, err
	}
	if len(result.Embeddings) != len(texts) {
		return nil, errs.Malformed("embedding", "%d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}
	p.observe(result.Embeddings)
	return result.Embeddings, nil
}
