package agent

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrAgentNotFound is returned when an agent name doesn't exist.
var ErrAgentNotFound = fmt.Errorf("agent not found")

// ErrAgentExists is returned when registering a name twice.
var ErrAgentExists = fmt.Errorf("agent already exists")

// Registry holds every resident by name.
type Registry struct {
	agents map[string]*Agent
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
		logger: logger,
	}
}

// Register adds an agent. Names are unique.
func (r *Registry) Register(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.Name()]; ok {
		return fmt.Errorf("register %s: %w", a.Name(), ErrAgentExists)
	}
	r.agents[a.Name()] = a
	r.logger.Info("registered agent", zap.String("name", a.Name()))
	return nil
}

// Get looks up an agent by name.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// List returns all agents sorted by name.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Names returns all agent names sorted.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, a := range list {
		names[i] = a.Name()
	}
	return names
}
