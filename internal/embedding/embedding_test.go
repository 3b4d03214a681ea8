package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nidhogg/smallville/internal/errs"
)

func TestAPIProviderEmbedSingleInputIsString(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if _, ok := req["input"].(string); !ok {
			t.Errorf("input should be a string, got %T", req["input"])
		}
		if req["model"] != DefaultModel {
			t.Errorf("got model %v", req["model"])
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("got auth %q", got)
		}
		w.Write([]byte(`{"data": [{"index": 0, "embedding": [0.1, 0.2, 0.3]}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, APIKey: "sk-test"}, srv.Client())

	vec, err := One(context.Background(), p, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("got dimension %d, want 3", len(vec))
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestAPIProviderEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"index": 1, "embedding": [2]}, {"index": 0, "embedding": [1]}]}`))
	}))
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL}, srv.Client())
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("got %v, want input order", vecs)
	}
}

func TestAPIProviderEmbed_Empty(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Dimension: 128}, nil)

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestAPIProviderDimension_Fallback(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Dimension: 256}, nil)
	if d := p.Dimension(); d != 256 {
		t.Errorf("got dimension %d, want configured default 256", d)
	}
}

func TestAPIProviderClassifiesErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, errs.ErrAuthOrRateLimit},
		{http.StatusUnauthorized, errs.ErrAuthOrRateLimit},
		{http.StatusBadGateway, errs.ErrTransport},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		p := NewAPIProvider(Config{Endpoint: srv.URL}, srv.Client())
		_, err := p.Embed(context.Background(), []string{"x"})
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: got %v, want %v", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

func TestLocalProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("got path %s", r.URL.Path)
		}
		var req localRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 2 {
			t.Errorf("expected one batched request, got input %v", req.Input)
		}
		json.NewEncoder(w).Encode(localResponse{Embeddings: [][]float32{{1, 2}, {3, 4}}})
	}))
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "nomic-embed-text"}, srv.Client())
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 3 {
		t.Fatalf("got %v", vecs)
	}
	if p.Dimension() != 2 {
		t.Errorf("dimension %d, want 2", p.Dimension())
	}
}
