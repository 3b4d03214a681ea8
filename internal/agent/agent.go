package agent

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/smallville/internal/memory"
)

// Status represents what an agent is doing within a tick.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusThinking Status = "thinking"
	StatusTalking  Status = "talking"
)

// Plan is one scheduled activity.
type Plan struct {
	Activity string    `json:"activity"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// NaturalLanguage renders the plan as "<activity> from <start> to <end>".
func (p Plan) NaturalLanguage() string {
	return fmt.Sprintf("%s from %s to %s", p.Activity, clock(p.Start), clock(p.End))
}

// Active reports whether the plan covers t.
func (p Plan) Active(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Over reports whether the plan ended at or before t.
func (p Plan) Over(t time.Time) bool {
	return !p.End.After(t)
}

func clock(t time.Time) string {
	return strings.ToLower(t.Format("3:04pm"))
}

// Agent is a resident of the town. During a tick exactly one goroutine
// mutates an agent; the mutex protects readers such as the HTTP API.
type Agent struct {
	name            string
	description     []string
	currentActivity string
	lastActivity    string
	location        string
	emoji           string
	status          Status
	plans           []Plan
	memory          *memory.Stream
	updatedAt       time.Time
	mu              sync.RWMutex
}

// New creates an agent. The name is its identity and never changes.
func New(name, location, activity string, description []string, stream *memory.Stream) *Agent {
	if stream == nil {
		stream = memory.NewStream(memory.DefaultScoreConfig())
	}
	return &Agent{
		name:            name,
		description:     slices.Clone(description),
		currentActivity: activity,
		location:        location,
		status:          StatusIdle,
		memory:          stream,
		updatedAt:       time.Now(),
	}
}

func (a *Agent) Name() string { return a.name }

// Memory returns the agent's own memory stream.
func (a *Agent) Memory() *memory.Stream { return a.memory }

// View is a copy of an agent's observable state.
type View struct {
	Name            string    `json:"name"`
	Description     []string  `json:"description"`
	CurrentActivity string    `json:"current_activity"`
	LastActivity    string    `json:"last_activity"`
	Location        string    `json:"location"`
	Emoji           string    `json:"emoji"`
	Status          Status    `json:"status"`
	Plans           []Plan    `json:"plans"`
	Memories        int       `json:"memories"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// View returns a consistent copy of the agent's state.
func (a *Agent) View() View {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return View{
		Name:            a.name,
		Description:     slices.Clone(a.description),
		CurrentActivity: a.currentActivity,
		LastActivity:    a.lastActivity,
		Location:        a.location,
		Emoji:           a.emoji,
		Status:          a.status,
		Plans:           slices.Clone(a.plans),
		Memories:        a.memory.Len(),
		UpdatedAt:       a.updatedAt,
	}
}

// SetActivity makes activity current and moves the previous one into the
// last-activity slot. Setting the same activity again is a no-op.
func (a *Agent) SetActivity(activity string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if activity == "" || activity == a.currentActivity {
		return false
	}
	a.lastActivity = a.currentActivity
	a.currentActivity = activity
	a.updatedAt = time.Now()
	return true
}

// SetLocation moves the agent.
func (a *Agent) SetLocation(location string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if location != "" {
		a.location = location
		a.updatedAt = time.Now()
	}
}

// SetEmoji sets the emoji shown next to the agent.
func (a *Agent) SetEmoji(emoji string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emoji = emoji
}

// SetStatus records what the agent is busy with.
func (a *Agent) SetStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// ReplacePlans discards the current plans and keeps plans in order.
func (a *Agent) ReplacePlans(plans []Plan) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plans = slices.Clone(plans)
	a.updatedAt = time.Now()
}

// PrunePlans drops the plans that are over at now and returns how many
// remain.
func (a *Agent) PrunePlans(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := slices.DeleteFunc(a.plans, func(p Plan) bool { return p.Over(now) })
	if len(kept) != len(a.plans) {
		a.updatedAt = time.Now()
	}
	a.plans = kept
	return len(kept)
}

// Plans returns a copy of the agent's plans.
func (a *Agent) Plans() []Plan {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.plans)
}

// AddDescription appends a line to the agent's self description.
func (a *Agent) AddDescription(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.description = append(a.description, line)
}

// Restore rebuilds an agent from a stored view. The memory count in v is
// ignored; memories live in stream.
func Restore(v View, stream *memory.Stream) *Agent {
	a := New(v.Name, v.Location, v.CurrentActivity, v.Description, stream)
	a.lastActivity = v.LastActivity
	a.emoji = v.Emoji
	a.plans = slices.Clone(v.Plans)
	if !v.UpdatedAt.IsZero() {
		a.updatedAt = v.UpdatedAt
	}
	return a
}
