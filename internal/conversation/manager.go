package conversation

import (
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrConversationNotFound is returned for unknown conversation IDs.
var ErrConversationNotFound = errors.New("conversation not found")

// Manager owns every conversation of the town.
type Manager struct {
	convs  map[string]*Conversation
	order  []string
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		convs:  make(map[string]*Conversation),
		logger: logger,
	}
}

// Propose opens a conversation between agent and other. If the pair already
// has an open one, that conversation is returned with created false.
func (m *Manager) Propose(agent, other string, now time.Time) (c *Conversation, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		existing := m.convs[id]
		if existing.State() != StateEnded && existing.IsPartOf(agent) && existing.IsPartOf(other) {
			return existing, false, nil
		}
	}
	c, err = m.open(agent, other, now)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Invite proposes a conversation between agent and other unless either of
// them already takes part in one that has not ended. The check and the
// proposal happen under one lock, so two residents inviting each other at
// once end up with a single conversation.
func (m *Manager) Invite(agent, other string, now time.Time) (*Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		existing := m.convs[id]
		if existing.State() != StateEnded && (existing.IsPartOf(agent) || existing.IsPartOf(other)) {
			return nil, false, nil
		}
	}
	c, err := m.open(agent, other, now)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// open registers a new proposed conversation. m.mu must be held.
func (m *Manager) open(agent, other string, now time.Time) (*Conversation, error) {
	c, err := New(agent, other, now)
	if err != nil {
		return nil, err
	}
	if err := c.Propose(); err != nil {
		return nil, err
	}
	m.convs[c.ID] = c
	m.order = append(m.order, c.ID)
	m.logger.Debug("conversation proposed",
		zap.String("id", c.ID), zap.String("agent", agent), zap.String("other", other))
	return c, nil
}

// Start proposes a conversation, activates it and appends lines. When the
// pair already has an open conversation it is returned untouched with
// created false, so only the caller that opened it adds dialog.
func (m *Manager) Start(agent, other string, now time.Time, lines ...Dialog) (c *Conversation, created bool, err error) {
	c, created, err = m.Propose(agent, other, now)
	if err != nil || !created {
		return c, false, err
	}
	if err := c.Activate(now); err != nil {
		return nil, false, err
	}
	if err := c.Append(now, lines...); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Get returns a conversation by ID.
func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

// End closes a conversation by ID.
func (m *Manager) End(id string) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.End()
}

// For returns every conversation name takes part in, oldest first.
func (m *Manager) For(name string) []*Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Conversation
	for _, id := range m.order {
		if c := m.convs[id]; c.IsPartOf(name) {
			out = append(out, c)
		}
	}
	return out
}

// List returns every conversation, oldest first.
func (m *Manager) List() []*Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conversation, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.convs[id])
	}
	return out
}

// Open counts conversations that have not ended.
func (m *Manager) Open() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.convs {
		if c.State() != StateEnded {
			n++
		}
	}
	return n
}

// Sweep ends open conversations whose last turn is older than idle and
// returns them.
func (m *Manager) Sweep(now time.Time, idle time.Duration) []*Conversation {
	var ended []*Conversation
	for _, c := range m.List() {
		if c.State() == StateEnded || now.Sub(c.LastTurn()) <= idle {
			continue
		}
		if err := c.End(); err != nil {
			m.logger.Warn("end idle conversation", zap.String("id", c.ID), zap.Error(err))
			continue
		}
		ended = append(ended, c)
	}
	return ended
}

// Restore registers conversations loaded from storage.
func (m *Manager) Restore(views ...View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range views {
		if _, ok := m.convs[v.ID]; ok {
			continue
		}
		m.convs[v.ID] = &Conversation{
			ID:        v.ID,
			Agent:     v.Agent,
			Other:     v.Other,
			CreatedAt: v.CreatedAt,
			state:     v.State,
			dialog:    slices.Clone(v.Dialog),
			lastTurn:  v.LastTurn,
		}
		m.order = append(m.order, v.ID)
	}
	slices.SortStableFunc(m.order, func(a, b string) int {
		return m.convs[a].CreatedAt.Compare(m.convs[b].CreatedAt)
	})
}
