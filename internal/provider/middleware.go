package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/observe"
	"github.com/nidhogg/smallville/internal/prompt"
)

// WithTimeout bounds every call on g by d. A call cut off by the deadline
// fails as a transport error.
func WithTimeout(g Provider, d time.Duration) Provider {
	if d <= 0 {
		return g
	}
	return timeoutGateway{Provider: g, d: d}
}

type timeoutGateway struct {
	Provider
	d time.Duration
}

func (t timeoutGateway) SendChat(ctx context.Context, p prompt.Prompt, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	out, err := t.Provider.SendChat(ctx, p, temperature)
	return out, t.deadline(ctx, "chat", err)
}

func (t timeoutGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	out, err := t.Provider.Embed(ctx, text)
	return out, t.deadline(ctx, "embed", err)
}

func (t timeoutGateway) deadline(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, classified := errs.KindOf(err); !classified && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Transport(op, fmt.Errorf("no reply within %s: %w", t.d, err))
	}
	return err
}

// Instrument records the latency and outcome of every call on g.
func Instrument(g Provider, m *observe.Metrics) Provider {
	if m == nil {
		return g
	}
	return instrumented{Provider: g, m: m}
}

type instrumented struct {
	Provider
	m *observe.Metrics
}

func (i instrumented) SendChat(ctx context.Context, p prompt.Prompt, temperature float64) (string, error) {
	start := time.Now()
	out, err := i.Provider.SendChat(ctx, p, temperature)
	i.m.RecordGatewayCall(ctx, i.ID(), "chat", kindLabel(err), time.Since(start))
	return out, err
}

func (i instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	out, err := i.Provider.Embed(ctx, text)
	i.m.RecordGatewayCall(ctx, i.ID(), "embed", kindLabel(err), time.Since(start))
	return out, err
}

func kindLabel(err error) string {
	if err == nil {
		return ""
	}
	if k, ok := errs.KindOf(err); ok {
		return string(k)
	}
	return "unknown"
}
