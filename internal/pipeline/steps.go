package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/chat"
	"github.com/nidhogg/smallville/internal/conversation"
	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/memory"
	"github.com/nidhogg/smallville/internal/prompt"
	"github.com/nidhogg/smallville/internal/world"
)

// RelationRecorder remembers who talked with whom.
type RelationRecorder interface {
	RecordConversation(ctx context.Context, a, b, summary string) error
}

// MemoryArchive keeps embedded memories outside the process.
type MemoryArchive interface {
	Archive(ctx context.Context, agentName string, m memory.Memory) error
}

// Deps are the collaborators shared by the default steps. Relations and
// Archive are optional.
type Deps struct {
	Chat          *chat.Service
	Conversations *conversation.Manager
	Relations     RelationRecorder
	Archive       MemoryArchive
	// Recall is how many memories go into a prompt. Defaults to 5.
	Recall int
	// MinPlans is the plan count below which a new day is planned.
	// Defaults to 5.
	MinPlans int
	Logger   *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Recall <= 0 {
		d.Recall = 5
	}
	if d.MinPlans <= 0 {
		d.MinPlans = 5
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// DefaultSteps returns the standard step order: memories, plans, current
// activity, reactions, conversations, object states.
func DefaultSteps(d Deps) []Step {
	d = d.withDefaults()
	return []Step{
		&MemoriesStep{d},
		&PlansStep{d},
		&CurrentActivityStep{d},
		&ReactionsStep{d},
		NewConversationsStep(d),
		&ObjectStatesStep{d},
	}
}

// recall returns the memories most relevant to text. When the stream holds
// embeddings the query is embedded too; if that fails keywords are used.
func recall(ctx context.Context, d Deps, a *agent.Agent, text string, now time.Time) []memory.Memory {
	q := memory.Query{Text: text}
	if a.Memory().Len() > len(a.Memory().MissingEmbeddings()) {
		vec, err := d.Chat.Embed(ctx, a.Name(), text)
		if err == nil {
			q.Embedding = vec
		} else {
			d.Logger.Debug("query embedding failed, using keywords",
				zap.String("agent", a.Name()), zap.Error(err))
		}
	}
	return a.Memory().Top(q, now, d.Recall)
}

// MemoriesStep ranks unweighted memories and embeds the ones without a
// vector.
type MemoriesStep struct{ d Deps }

func (s *MemoriesStep) Name() string { return "memories" }

func (s *MemoriesStep) ShouldRun(a *agent.Agent, _ world.Snapshot) bool {
	for _, m := range a.Memory().All() {
		if !m.Ranked() || m.Embedding == nil {
			return true
		}
	}
	return false
}

func (s *MemoriesStep) Apply(ctx context.Context, a *agent.Agent, snap world.Snapshot) (Outcome, error) {
	var out Outcome
	if !s.ShouldRun(a, snap) {
		return out, nil
	}
	stream := a.Memory()

	if batch := stream.UnweightedMemories(); len(batch) > 0 {
		scores, err := s.d.Chat.RankMemories(ctx, a.View(), batch)
		if err != nil {
			return out, err
		}
		if err := stream.ApplyRanking(scores); err != nil {
			return out, err
		}
		out.Changed = true
	}

	for _, m := range stream.MissingEmbeddings() {
		vec, err := s.d.Chat.Embed(ctx, a.Name(), m.Description)
		if err != nil {
			return out, err
		}
		if err := stream.SetEmbedding(m.ID, vec); err != nil {
			return out, err
		}
		out.Changed = true
		if s.d.Archive != nil {
			m.Embedding = vec
			if err := s.d.Archive.Archive(ctx, a.Name(), m); err != nil {
				s.d.Logger.Warn("archive memory", zap.String("agent", a.Name()), zap.Error(err))
			}
		}
	}
	return out, nil
}

// PlansStep drops finished plans and plans a new day when fewer than
// MinPlans remain. The new plans replace the old ones.
type PlansStep struct{ d Deps }

func (s *PlansStep) Name() string { return "plans" }

func (s *PlansStep) ShouldRun(a *agent.Agent, snap world.Snapshot) bool {
	remaining := 0
	for _, p := range a.Plans() {
		if !p.Over(snap.Time) {
			remaining++
		}
	}
	return remaining < s.d.MinPlans
}

func (s *PlansStep) Apply(ctx context.Context, a *agent.Agent, snap world.Snapshot) (Outcome, error) {
	if a.PrunePlans(snap.Time) >= s.d.MinPlans {
		return Outcome{}, nil
	}
	v := a.View()
	mems := recall(ctx, s.d, a, v.CurrentActivity, snap.Time)
	plans, err := s.d.Chat.GetPlans(ctx, v, snap, mems)
	if err != nil {
		return Outcome{}, err
	}
	a.ReplacePlans(plans)

	lines := make([]string, len(plans))
	for i, p := range plans {
		lines[i] = p.NaturalLanguage()
	}
	return Outcome{
		Changed: true,
		Events: []Event{{
			Kind:  EventPlans,
			Agent: v.Name,
			Text:  strings.Join(lines, "; "),
			At:    snap.Time,
		}},
	}, nil
}

// CurrentActivityStep asks what the agent is doing now and moves it.
type CurrentActivityStep struct{ d Deps }

func (s *CurrentActivityStep) Name() string { return "current_activity" }

func (s *CurrentActivityStep) ShouldRun(*agent.Agent, world.Snapshot) bool { return true }

func (s *CurrentActivityStep) Apply(ctx context.Context, a *agent.Agent, snap world.Snapshot) (Outcome, error) {
	v := a.View()
	mems := recall(ctx, s.d, a, v.CurrentActivity, snap.Time)
	act, err := s.d.Chat.GetCurrentActivity(ctx, v, snap, mems)
	if err != nil {
		return Outcome{}, err
	}
	return applyActivity(a, snap, act.Activity, act.Location, act.Emoji, EventActivity), nil
}

// applyActivity updates activity, location and emoji and records the
// change as an observation.
func applyActivity(a *agent.Agent, snap world.Snapshot, activity, location, emoji string, kind EventKind) Outcome {
	if loc, ok := snap.ResolveLocation(location); ok {
		a.SetLocation(loc)
	}
	if emoji != "" {
		a.SetEmoji(emoji)
	}
	if !a.SetActivity(activity) {
		return Outcome{}
	}
	status := prompt.Status(a.Name(), activity)
	a.Memory().Observe(status, snap.Time)
	return Outcome{
		Changed: true,
		Events:  []Event{{Kind: kind, Agent: a.Name(), Text: status, Emoji: emoji, At: snap.Time}},
	}
}

// ReactionsStep lets the agent observe the residents around it and maybe
// react to them. Reacting to a resident proposes a conversation with them
// when neither is already talking.
type ReactionsStep struct{ d Deps }

func (s *ReactionsStep) Name() string { return "reactions" }

func (s *ReactionsStep) ShouldRun(a *agent.Agent, snap world.Snapshot) bool {
	return len(snap.ResidentsNear(a.View().Location, a.Name())) > 0
}

func (s *ReactionsStep) Apply(ctx context.Context, a *agent.Agent, snap world.Snapshot) (Outcome, error) {
	var out Outcome
	for _, r := range snap.ResidentsNear(a.View().Location, a.Name()) {
		if r.Activity == "" {
			continue
		}
		observation := prompt.Status(r.Name, r.Activity)
		mems := recall(ctx, s.d, a, observation, snap.Time)
		reaction, err := s.d.Chat.GetReaction(ctx, a.View(), snap, mems, observation)
		switch {
		case err == nil:
		case errs.Recoverable(err):
			s.d.Logger.Warn("no reaction",
				zap.String("agent", a.Name()), zap.String("observed", r.Name), zap.Error(err))
			continue
		default:
			return out, err
		}

		a.Memory().Observe(observation, snap.Time)
		out.Changed = true
		if !reaction.React {
			continue
		}
		if reaction.Action != "" {
			out.merge(applyActivity(a, snap, reaction.Action, reaction.Location, reaction.Emoji, EventReaction))
		}
		if s.d.Conversations == nil {
			continue
		}
		c, created, err := s.d.Conversations.Invite(a.Name(), r.Name, snap.Time)
		if err != nil {
			return out, err
		}
		if created {
			s.d.Logger.Debug("conversation proposed",
				zap.String("conversation", c.ID), zap.String("agent", a.Name()), zap.String("other", r.Name))
		}
	}
	return out, nil
}

// ConversationsStep feeds new dialog lines into the agent's memory and
// carries out the conversations the agent proposed. The counterpart's
// reply either activates a proposal with its dialog or ends it.
type ConversationsStep struct {
	d Deps

	mu      sync.Mutex
	cursors map[string]int // agent name + conversation ID -> lines seen
}

// NewConversationsStep creates the conversation step.
func NewConversationsStep(d Deps) *ConversationsStep {
	return &ConversationsStep{d: d.withDefaults(), cursors: make(map[string]int)}
}

func (s *ConversationsStep) Name() string { return "conversations" }

func (s *ConversationsStep) ShouldRun(a *agent.Agent, _ world.Snapshot) bool {
	if len(s.proposedBy(a.Name())) > 0 {
		return true
	}
	for _, c := range s.d.Conversations.For(a.Name()) {
		s.mu.Lock()
		seen := s.cursors[a.Name()+"\x00"+c.ID]
		s.mu.Unlock()
		if c.Size() > seen {
			return true
		}
	}
	return false
}

func (s *ConversationsStep) Apply(ctx context.Context, a *agent.Agent, snap world.Snapshot) (Outcome, error) {
	out := Outcome{Changed: s.ingest(a, snap.Time)}
	name := a.Name()

	for _, c := range s.proposedBy(name) {
		other, ok := snap.Resident(c.Other)
		if !ok {
			if err := c.End(); err != nil {
				return out, err
			}
			out.Changed = true
			continue
		}
		mems := recall(ctx, s.d, a, other.Name, snap.Time)
		lines, err := s.d.Chat.GetConversation(ctx, a.View(), snap, mems, other)
		if err != nil {
			return out, err
		}
		out.Changed = true
		if len(lines) == 0 {
			if err := c.End(); err != nil {
				return out, err
			}
			s.d.Logger.Debug("conversation declined", zap.String("conversation", c.ID))
			continue
		}
		if err := c.Activate(snap.Time); err != nil {
			return out, err
		}
		if err := c.Append(snap.Time, lines...); err != nil {
			return out, err
		}
		s.ingest(a, snap.Time)

		if s.d.Relations != nil {
			if err := s.d.Relations.RecordConversation(ctx, name, other.Name, lines[0].NaturalLanguage()); err != nil {
				s.d.Logger.Warn("record relation", zap.String("conversation", c.ID), zap.Error(err))
			}
		}
		for _, l := range lines {
			out.Events = append(out.Events, Event{
				Kind:  EventConversation,
				Agent: l.Speaker,
				Text:  l.Message,
				At:    snap.Time,
			})
		}
	}
	return out, nil
}

// proposedBy returns the proposals name made that still wait for a reply.
func (s *ConversationsStep) proposedBy(name string) []*conversation.Conversation {
	var out []*conversation.Conversation
	for _, c := range s.d.Conversations.For(name) {
		if c.State() == conversation.StateProposed && strings.EqualFold(c.Agent, name) {
			out = append(out, c)
		}
	}
	return out
}

// ingest adds every dialog line the agent has not seen yet as a memory.
func (s *ConversationsStep) ingest(a *agent.Agent, now time.Time) bool {
	added := false
	for _, c := range s.d.Conversations.For(a.Name()) {
		key := a.Name() + "\x00" + c.ID
		s.mu.Lock()
		seen := s.cursors[key]
		s.mu.Unlock()

		lines := c.Since(seen)
		for _, l := range lines {
			at := l.At
			if at.IsZero() {
				at = now
			}
			a.Memory().Observe(l.NaturalLanguage(), at)
			added = true
		}

		s.mu.Lock()
		s.cursors[key] = seen + len(lines)
		s.mu.Unlock()
	}
	return added
}

// ObjectStatesStep asks how nearby objects changed once the agent's
// activity changed during the tick.
type ObjectStatesStep struct{ d Deps }

func (s *ObjectStatesStep) Name() string { return "object_states" }

func (s *ObjectStatesStep) ShouldRun(a *agent.Agent, snap world.Snapshot) bool {
	before, ok := snap.Resident(a.Name())
	return ok && before.Activity != a.View().CurrentActivity
}

func (s *ObjectStatesStep) Apply(ctx context.Context, a *agent.Agent, snap world.Snapshot) (Outcome, error) {
	if !s.ShouldRun(a, snap) {
		return Outcome{}, nil
	}
	v := a.View()
	before, _ := snap.Resident(v.Name)
	status := prompt.PastAndPresent(v.Name, before.Activity, v.CurrentActivity)

	updates, err := s.d.Chat.GetObjectStates(ctx, v, snap, status)
	if err != nil {
		return Outcome{}, err
	}
	if len(updates) == 0 {
		return Outcome{}, nil
	}
	var events []Event
	for _, u := range updates {
		events = append(events, Event{Kind: EventObjects, Agent: v.Name, Text: u.Object + ": " + u.State, At: snap.Time})
	}
	return Outcome{Changed: true, ObjectUpdates: updates, Events: events}, nil
}
