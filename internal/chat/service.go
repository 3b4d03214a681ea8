// Package chat turns model intents into typed results: it builds the prompt,
// sends it through a gateway and parses the reply.
package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/conversation"
	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/memory"
	"github.com/nidhogg/smallville/internal/prompt"
	"github.com/nidhogg/smallville/internal/provider"
	"github.com/nidhogg/smallville/internal/world"
)

// agentRouter is implemented by gateways that route per agent.
type agentRouter interface {
	For(agentName string) provider.Gateway
}

// Service runs the model intents of the simulation.
type Service struct {
	gateway     provider.Gateway
	temperature float64
	logger      *zap.Logger
}

// NewService creates a chat service sending at the given temperature.
func NewService(g provider.Gateway, temperature float64, logger *zap.Logger) *Service {
	return &Service{gateway: g, temperature: temperature, logger: logger}
}

func (s *Service) send(ctx context.Context, agentName string, b prompt.Builder) (string, error) {
	p, err := b.Build()
	if err != nil {
		return "", err
	}
	g := s.gateway
	if r, ok := g.(agentRouter); ok && agentName != "" {
		g = r.For(agentName)
	}
	s.logger.Debug("sending prompt",
		zap.String("agent", agentName),
		zap.String("template", string(p.Template())),
		zap.String("content", p.Content()))
	reply, err := g.SendChat(ctx, p, s.temperature)
	if err != nil {
		return "", err
	}
	s.logger.Debug("model reply",
		zap.String("agent", agentName),
		zap.String("template", string(p.Template())),
		zap.String("reply", reply))
	return reply, nil
}

func base(v agent.View, snap world.Snapshot, mems []memory.Memory) prompt.Builder {
	return prompt.New().WithAgent(v).WithWorld(snap).WithMemories(mems)
}

// Embed returns the embedding of text through the agent's gateway.
func (s *Service) Embed(ctx context.Context, agentName, text string) ([]float32, error) {
	g := s.gateway
	if r, ok := g.(agentRouter); ok && agentName != "" {
		g = r.For(agentName)
	}
	return g.Embed(ctx, text)
}

// GetPlans asks for the agent's plans for the rest of the day.
func (s *Service) GetPlans(ctx context.Context, v agent.View, snap world.Snapshot, mems []memory.Memory) ([]agent.Plan, error) {
	reply, err := s.send(ctx, v.Name, base(v, snap, mems).FuturePlans())
	if err != nil {
		return nil, err
	}
	plans := ParsePlans(reply, snap.Time)
	if len(plans) == 0 {
		return nil, errs.Malformed("get plans", "no plans in reply")
	}
	return plans, nil
}

// GetCurrentActivity asks what the agent is doing now.
func (s *Service) GetCurrentActivity(ctx context.Context, v agent.View, snap world.Snapshot, mems []memory.Memory) (Activity, error) {
	reply, err := s.send(ctx, v.Name, base(v, snap, mems).CurrentActivity())
	if err != nil {
		return Activity{}, err
	}
	return ParseActivity(reply)
}

// GetReaction asks whether the agent reacts to observation.
func (s *Service) GetReaction(ctx context.Context, v agent.View, snap world.Snapshot, mems []memory.Memory, observation string) (Reaction, error) {
	reply, err := s.send(ctx, v.Name, base(v, snap, mems).Reaction(observation))
	if err != nil {
		return Reaction{}, err
	}
	return ParseReaction(reply)
}

// RankMemories asks for one importance score per memory, in order.
func (s *Service) RankMemories(ctx context.Context, v agent.View, ms []memory.Memory) ([]int, error) {
	if len(ms) == 0 {
		return nil, nil
	}
	reply, err := s.send(ctx, v.Name, prompt.New().WithAgent(v).MemoryRank(ms))
	if err != nil {
		return nil, err
	}
	return ParseRanking(reply, len(ms))
}

// GetConversation asks whether the agent talks to other and returns the
// dialog. No lines means no conversation.
func (s *Service) GetConversation(ctx context.Context, v agent.View, snap world.Snapshot, mems []memory.Memory, other world.Resident) ([]conversation.Dialog, error) {
	reply, err := s.send(ctx, v.Name, base(v, snap, mems).Conversation(other))
	if err != nil {
		return nil, err
	}
	return ParseConversation(reply, v.Name, other.Name), nil
}

// GetObjectStates asks how the objects around the agent changed given a
// status sentence.
func (s *Service) GetObjectStates(ctx context.Context, v agent.View, snap world.Snapshot, status string) ([]world.ObjectUpdate, error) {
	near := snap.ObjectsAt(v.Location)
	if len(near) == 0 {
		return nil, nil
	}
	reply, err := s.send(ctx, v.Name, base(v, snap, nil).ObjectStates(status))
	if err != nil {
		return nil, err
	}
	updates, unknown := resolveObjects(ParseObjectStates(reply), near)
	if len(unknown) > 0 {
		s.logger.Debug("ignoring states of unknown objects",
			zap.String("agent", v.Name), zap.Strings("objects", unknown))
	}
	return updates, nil
}

// AskQuestion has the agent answer question in first person.
func (s *Service) AskQuestion(ctx context.Context, v agent.View, snap world.Snapshot, mems []memory.Memory, question string) (string, error) {
	reply, err := s.send(ctx, v.Name, base(v, snap, mems).AskQuestion(question))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}
