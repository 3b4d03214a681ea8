// Package pipeline runs the ordered cognition steps of one agent for one
// tick.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/observe"
	"github.com/nidhogg/smallville/internal/world"
)

// EventKind identifies what an Event reports.
type EventKind string

const (
	EventPlans        EventKind = "plans"
	EventActivity     EventKind = "activity"
	EventReaction     EventKind = "reaction"
	EventConversation EventKind = "conversation"
	EventObjects      EventKind = "objects"
)

// Event is something worth telling the outside world about.
type Event struct {
	Kind  EventKind `json:"kind"`
	Agent string    `json:"agent"`
	Text  string    `json:"text"`
	Emoji string    `json:"emoji,omitempty"`
	At    time.Time `json:"at"`
}

// Outcome is what a step produced besides its direct changes to the agent.
type Outcome struct {
	Changed       bool
	ObjectUpdates []world.ObjectUpdate
	Events        []Event
}

func (o *Outcome) merge(other Outcome) {
	o.Changed = o.Changed || other.Changed
	o.ObjectUpdates = append(o.ObjectUpdates, other.ObjectUpdates...)
	o.Events = append(o.Events, other.Events...)
}

// Step is one stage of the cognition pipeline. Apply may mutate the agent it
// is given and must only read the snapshot. The pipeline calls Apply on
// every run; each step decides inside Apply whether there is work to do.
// ShouldRun reports that same decision ahead of time and is only used to
// label a no-op run as skipped in the trace.
type Step interface {
	Name() string
	ShouldRun(a *agent.Agent, snap world.Snapshot) bool
	Apply(ctx context.Context, a *agent.Agent, snap world.Snapshot) (Outcome, error)
}

// Result is the combined output of one run.
type Result struct {
	Outcome
	Trace Trace
}

// Pipeline runs its steps in order.
type Pipeline struct {
	steps   []Step
	metrics *observe.Metrics
	logger  *zap.Logger
}

// New creates a pipeline over steps. metrics may be nil.
func New(steps []Step, metrics *observe.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{steps: steps, metrics: metrics, logger: logger}
}

// Steps returns the step names in run order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run applies every step once, in order, and never skips one. A step failing with a transport,
// auth or malformed-reply error counts as unchanged and the run goes on.
// Prompt-state and domain-invariant errors are collected and returned,
// joined, after the last step.
func (p *Pipeline) Run(ctx context.Context, a *agent.Agent, snap world.Snapshot) (Result, error) {
	res := Result{Trace: Trace{Agent: a.Name(), StartedAt: time.Now()}}
	var failures []error

	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		start := time.Now()
		ts := TraceStep{Step: s.Name()}
		wanted := s.ShouldRun(a, snap)
		out, err := s.Apply(ctx, a, snap)
		switch {
		case err == nil:
			res.merge(out)
			switch {
			case out.Changed:
				ts.Outcome = OutcomeChanged
			case !wanted:
				ts.Outcome = OutcomeSkipped
			default:
				ts.Outcome = OutcomeUnchanged
			}
		case errs.Recoverable(err):
			ts.Outcome = OutcomeRecovered
			ts.Error = err.Error()
			p.logger.Warn("step failed, agent unchanged",
				zap.String("agent", a.Name()), zap.String("step", s.Name()), zap.Error(err))
		default:
			ts.Outcome = OutcomeFailed
			ts.Error = err.Error()
			failures = append(failures, fmt.Errorf("agent %s: step %s: %w", a.Name(), s.Name(), err))
			p.logger.Error("step failed",
				zap.String("agent", a.Name()), zap.String("step", s.Name()), zap.Error(err))
		}
		ts.Duration = time.Since(start)
		res.Trace.Steps = append(res.Trace.Steps, ts)
		if p.metrics != nil {
			p.metrics.RecordStep(ctx, s.Name(), string(ts.Outcome))
		}
	}

	res.Trace.Duration = time.Since(res.Trace.StartedAt)
	return res, errors.Join(failures...)
}
