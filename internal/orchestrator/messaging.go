package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/smallville/internal/pipeline"
)

// Publisher receives the events of every tick.
type Publisher interface {
	Publish(ctx context.Context, ev pipeline.Event) error
}

// EventBus publishes tick events to Redis Streams: one stream for the whole
// town and one per agent.
type EventBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewEventBus creates a Redis-backed event bus.
func NewEventBus(ctx context.Context, redisURL string, logger *zap.Logger) (*EventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &EventBus{rdb: rdb, logger: logger}, nil
}

const (
	streamPrefix = "smallville:"
	maxStreamLen = 10000

	// TownStream carries every event.
	TownStream = streamPrefix + "town"
)

// AgentStream returns the stream carrying one agent's events.
func AgentStream(name string) string {
	return streamPrefix + "agent:" + name
}

// Publish appends ev to the town stream and to the agent's stream.
func (b *EventBus) Publish(ctx context.Context, ev pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	for _, stream := range []string{TownStream, AgentStream(ev.Agent)} {
		_, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: maxStreamLen,
			Approx: true,
			Values: map[string]interface{}{
				"data": string(data),
			},
		}).Result()
		if err != nil {
			return fmt.Errorf("publish to %s: %w", stream, err)
		}
	}

	b.logger.Debug("published event",
		zap.String("agent", ev.Agent),
		zap.String("kind", string(ev.Kind)))
	return nil
}

// Subscribe listens for events on a stream. lastID "$" starts with new
// events only, "0" replays the stream. Cancel the context to stop.
func (b *EventBus) Subscribe(ctx context.Context, stream, lastID string) <-chan pipeline.Event {
	ch := make(chan pipeline.Event, 16)
	if lastID == "" {
		lastID = "$"
	}

	go func() {
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev pipeline.Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *EventBus) Close() error {
	return b.rdb.Close()
}
