package pipeline

import (
	"time"
)

// StepOutcome labels how a step ended.
type StepOutcome string

const (
	OutcomeChanged   StepOutcome = "changed"
	OutcomeUnchanged StepOutcome = "unchanged"
	OutcomeSkipped   StepOutcome = "skipped"
	OutcomeRecovered StepOutcome = "recovered"
	OutcomeFailed    StepOutcome = "failed"
)

// Trace records one pipeline run for one agent.
type Trace struct {
	Agent     string        `json:"agent"`
	Steps     []TraceStep   `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// TraceStep is a single step in the trace.
type TraceStep struct {
	Step     string        `json:"step"`
	Outcome  StepOutcome   `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Outcome returns the recorded outcome of the named step.
func (t Trace) Outcome(step string) (StepOutcome, bool) {
	for _, s := range t.Steps {
		if s.Step == step {
			return s.Outcome, true
		}
	}
	return "", false
}
