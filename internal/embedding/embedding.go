package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/nidhogg/smallville/internal/errs"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "text-embedding-ada-002"

// New builds the provider named by cfg.Provider. An empty name means "api".
func New(cfg Config, client *http.Client) (Provider, error) {
	switch cfg.Provider {
	case "", "api":
		return NewAPIProvider(cfg, client), nil
	case "local":
		return NewLocalProvider(cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// One embeds a single text.
func One(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, errs.Malformed("embed", "no embedding in response")
	}
	return vecs[0], nil
}

// statusError classifies a non-200 reply.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return errs.AuthOrRateLimit(op, fmt.Sprintf("status %d: %s", resp.StatusCode, body))
	}
	return errs.Transport(op, fmt.Errorf("status %d: %s", resp.StatusCode, body))
}

// postJSON sends body to url and decodes a 200 reply into out.
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errs.Transport("embedding: send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("embedding", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Malformed("embedding", "decode response: %v", err)
	}
	return nil
}

// dimension remembers the vector size of the first embedding returned and
// falls back to the configured one until then.
type dimension struct {
	configured int
	observed   atomic.Int64
}

func (d *dimension) observe(vecs [][]float32) {
	if len(vecs) > 0 && len(vecs[0]) > 0 {
		d.observed.CompareAndSwap(0, int64(len(vecs[0])))
	}
}

func (d *dimension) Dimension() int {
	if n := d.observed.Load(); n > 0 {
		return int(n)
	}
	return d.configured
}
