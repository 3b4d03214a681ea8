// Package conversation tracks dialogs between two residents.
package conversation

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nidhogg/smallville/internal/errs"
)

// State is the lifecycle state of a conversation.
type State string

const (
	StateNotStarted State = "not_started"
	StateProposed   State = "proposed"
	StateActive     State = "active"
	StateEnded      State = "ended"
)

var validTransitions = map[State][]State{
	StateNotStarted: {StateProposed, StateEnded},
	StateProposed:   {StateActive, StateEnded},
	StateActive:     {StateEnded},
}

// Transition validates and returns nil if from→to is a legal transition.
func Transition(from, to State) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return errs.DomainInvariant("conversation", "no transitions from %q", from)
	}
	if slices.Contains(allowed, to) {
		return nil
	}
	return errs.DomainInvariant("conversation", "invalid transition %q -> %q", from, to)
}

// Dialog is one line of a conversation.
type Dialog struct {
	Speaker string    `json:"speaker"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// NaturalLanguage renders the line as a memory description.
func (d Dialog) NaturalLanguage() string {
	return d.Speaker + " said " + d.Message
}

// Conversation is a dialog between an initiating agent and one other
// resident. Appends are serialized by the conversation's own mutex.
type Conversation struct {
	ID        string
	Agent     string
	Other     string
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	dialog   []Dialog
	lastTurn time.Time
}

// New creates a not-yet-started conversation. An agent cannot talk to
// itself.
func New(agent, other string, now time.Time) (*Conversation, error) {
	if agent == "" || other == "" {
		return nil, errs.DomainInvariant("new conversation", "both participants are required")
	}
	if strings.EqualFold(agent, other) {
		return nil, errs.DomainInvariant("new conversation", "%s cannot converse with itself", agent)
	}
	return &Conversation{
		ID:        uuid.New().String(),
		Agent:     agent,
		Other:     other,
		CreatedAt: now,
		state:     StateNotStarted,
		lastTurn:  now,
	}, nil
}

// IsPartOf reports whether name takes part in the conversation.
func (c *Conversation) IsPartOf(name string) bool {
	return strings.EqualFold(c.Agent, name) || strings.EqualFold(c.Other, name)
}

// Partner returns the participant that is not name.
func (c *Conversation) Partner(name string) string {
	if strings.EqualFold(c.Agent, name) {
		return c.Other
	}
	return c.Agent
}

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Size returns the number of dialog lines.
func (c *Conversation) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dialog)
}

// LastTurn returns when the last line was added, or the creation time.
func (c *Conversation) LastTurn() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTurn
}

func (c *Conversation) moveTo(to State) error {
	if err := Transition(c.state, to); err != nil {
		return fmt.Errorf("conversation %s: %w", c.ID, err)
	}
	c.state = to
	return nil
}

// Propose moves a new conversation to Proposed.
func (c *Conversation) Propose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveTo(StateProposed)
}

// Activate moves a proposed conversation to Active.
func (c *Conversation) Activate(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.moveTo(StateActive); err != nil {
		return err
	}
	c.lastTurn = now
	return nil
}

// End closes the conversation. Ending an ended conversation is a no-op.
func (c *Conversation) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded {
		return nil
	}
	return c.moveTo(StateEnded)
}

// Append adds lines to an active conversation. Every speaker must be a
// participant.
func (c *Conversation) Append(now time.Time, lines ...Dialog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return errs.DomainInvariant("append dialog", "conversation %s is %s", c.ID, c.state)
	}
	for _, l := range lines {
		if !c.IsPartOf(l.Speaker) {
			return errs.DomainInvariant("append dialog", "%s is not part of conversation %s", l.Speaker, c.ID)
		}
	}
	for _, l := range lines {
		if l.At.IsZero() {
			l.At = now
		}
		c.dialog = append(c.dialog, l)
	}
	if len(lines) > 0 {
		c.lastTurn = now
	}
	return nil
}

// Dialog returns a copy of every line.
func (c *Conversation) Dialog() []Dialog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.dialog)
}

// Since returns the lines after the first n.
func (c *Conversation) Since(n int) []Dialog {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= len(c.dialog) {
		return nil
	}
	return slices.Clone(c.dialog[max(n, 0):])
}

// View is a read-only copy used by the API and persistence.
type View struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Other     string    `json:"other"`
	State     State     `json:"state"`
	Dialog    []Dialog  `json:"dialog"`
	CreatedAt time.Time `json:"created_at"`
	LastTurn  time.Time `json:"last_turn"`
}

func (c *Conversation) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		ID:        c.ID,
		Agent:     c.Agent,
		Other:     c.Other,
		State:     c.state,
		Dialog:    slices.Clone(c.dialog),
		CreatedAt: c.CreatedAt,
		LastTurn:  c.lastTurn,
	}
}
