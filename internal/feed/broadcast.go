package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/smallville/internal/pipeline"
)

const maxHistory = 200

// Record is a post together with the platforms it reached.
type Record struct {
	Post    Post     `json:"post"`
	Targets []string `json:"targets"`
}

// Broadcaster fans tick events out to every registered sink and keeps a
// short history of what was sent.
type Broadcaster struct {
	sinks   []Sink
	kinds   map[pipeline.EventKind]bool
	history []Record
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster. With no kinds every event is posted.
func NewBroadcaster(logger *zap.Logger, kinds ...pipeline.EventKind) *Broadcaster {
	b := &Broadcaster{logger: logger}
	if len(kinds) > 0 {
		b.kinds = make(map[pipeline.EventKind]bool, len(kinds))
		for _, k := range kinds {
			b.kinds[k] = true
		}
	}
	return b
}

// Register adds a sink.
func (b *Broadcaster) Register(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
	b.logger.Info("registered feed sink", zap.String("platform", s.Platform()))
}

// Platforms returns the registered platform names in registration order.
func (b *Broadcaster) Platforms() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.sinks))
	for i, s := range b.sinks {
		names[i] = s.Platform()
	}
	return names
}

// Publish posts ev to every sink. A failing sink does not stop the others;
// all failures are returned together.
func (b *Broadcaster) Publish(ctx context.Context, ev pipeline.Event) error {
	if b.kinds != nil && !b.kinds[ev.Kind] {
		return nil
	}
	if ev.Text == "" {
		return nil
	}
	return b.Send(ctx, Post{
		Agent: ev.Agent,
		Emoji: ev.Emoji,
		Kind:  string(ev.Kind),
		Text:  ev.Text,
		At:    ev.At,
	})
}

// Send posts p to every sink.
func (b *Broadcaster) Send(ctx context.Context, p Post) error {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	var failed []error
	var targets []string
	for _, s := range sinks {
		if err := s.Post(ctx, p); err != nil {
			b.logger.Warn("feed post failed", zap.String("platform", s.Platform()), zap.Error(err))
			failed = append(failed, fmt.Errorf("%s: %w", s.Platform(), err))
			continue
		}
		targets = append(targets, s.Platform())
	}

	b.mu.Lock()
	b.history = append(b.history, Record{Post: p, Targets: targets})
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
	b.mu.Unlock()

	return errors.Join(failed...)
}

// History returns up to limit of the most recent records, oldest first.
func (b *Broadcaster) History(limit int) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	return append([]Record(nil), b.history[len(b.history)-limit:]...)
}

// Close closes every sink.
func (b *Broadcaster) Close() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var failed []error
	for _, s := range b.sinks {
		if err := s.Close(); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", s.Platform(), err))
		}
	}
	return errors.Join(failed...)
}
