package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/prompt"
)

// ErrNoProvider is returned when the router has nothing to send to.
var ErrNoProvider = errors.New("provider: no provider registered")

// Router manages several gateways. Calls go to the agent's bound provider,
// or the default, and move down the fallback chain only on transport
// failures. Auth, rate limit and malformed replies are returned as is.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string // agent name -> provider ID
	fallbacks []string
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		logger:    logger,
	}
}

// Register adds a provider to the router. The first one becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// SetFallbacks configures the providers tried after a transport failure.
func (r *Router) SetFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append([]string(nil), providerIDs...)
}

// Bind routes an agent's calls to a specific provider.
func (r *Router) Bind(agentName, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[agentName] = providerID
}

// For returns a Gateway that routes as agentName.
func (r *Router) For(agentName string) Gateway {
	return routed{r: r, agent: agentName}
}

// SendChat routes through the default provider.
func (r *Router) SendChat(ctx context.Context, p prompt.Prompt, temperature float64) (string, error) {
	return r.For("").SendChat(ctx, p, temperature)
}

// Embed routes through the default provider.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	return r.For("").Embed(ctx, text)
}

// chain returns the primary provider followed by the fallbacks.
func (r *Router) chain(agentName string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	seen := make(map[string]bool)
	add := func(id string) {
		if p, ok := r.providers[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	if pid, ok := r.bindings[agentName]; ok {
		add(pid)
	}
	add(r.defaults)
	for _, id := range r.fallbacks {
		add(id)
	}
	return out
}

func route[T any](r *Router, agentName string, call func(Provider) (T, error)) (T, error) {
	var zero T
	chain := r.chain(agentName)
	if len(chain) == 0 {
		return zero, fmt.Errorf("agent %q: %w", agentName, ErrNoProvider)
	}

	var err error
	for i, p := range chain {
		var out T
		out, err = call(p)
		if err == nil {
			return out, nil
		}
		if !errs.Retryable(err) {
			return zero, err
		}
		if i < len(chain)-1 {
			r.logger.Warn("provider failed, trying fallback",
				zap.String("provider", p.ID()), zap.String("agent", agentName), zap.Error(err))
		}
	}
	return zero, err
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers sorted by ID.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

type routed struct {
	r     *Router
	agent string
}

func (g routed) SendChat(ctx context.Context, p prompt.Prompt, temperature float64) (string, error) {
	return route(g.r, g.agent, func(pr Provider) (string, error) {
		return pr.SendChat(ctx, p, temperature)
	})
}

func (g routed) Embed(ctx context.Context, text string) ([]float32, error) {
	return route(g.r, g.agent, func(pr Provider) ([]float32, error) {
		return pr.Embed(ctx, text)
	})
}
