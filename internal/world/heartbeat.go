package world

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTickInProgress is returned by FireNow while another tick is running.
var ErrTickInProgress = errors.New("tick already in progress")

// TickFunc runs one simulation tick at the given world time.
type TickFunc func(ctx context.Context, worldTime time.Time) error

// Heartbeat is a ClockListener that runs a simulation tick once per interval
// of world time. Ticks never overlap.
type Heartbeat struct {
	interval time.Duration // how often (in world time) to fire
	timeout  time.Duration // upper bound for one tick
	lastBeat time.Time
	tickFn   TickFunc
	running  sync.Mutex
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewHeartbeat creates a heartbeat listener.
func NewHeartbeat(interval, timeout time.Duration, tickFn TickFunc, logger *zap.Logger) *Heartbeat {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Heartbeat{
		interval: interval,
		timeout:  timeout,
		tickFn:   tickFn,
		logger:   logger,
	}
}

// FireNow runs a tick immediately, bypassing the interval check.
func (h *Heartbeat) FireNow(ctx context.Context, worldTime time.Time) error {
	if !h.running.TryLock() {
		return ErrTickInProgress
	}
	defer h.running.Unlock()

	h.mu.Lock()
	h.lastBeat = worldTime
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.tickFn(ctx, worldTime)
}

// OnTick implements ClockListener.
func (h *Heartbeat) OnTick(worldTime time.Time) {
	h.mu.Lock()
	if h.lastBeat.IsZero() {
		h.lastBeat = worldTime
		h.mu.Unlock()
		return
	}
	if worldTime.Sub(h.lastBeat) < h.interval {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if err := h.FireNow(context.Background(), worldTime); err != nil {
		if errors.Is(err, ErrTickInProgress) {
			h.logger.Debug("heartbeat skipped, tick still running",
				zap.Time("world_time", worldTime))
			return
		}
		h.logger.Warn("heartbeat tick failed",
			zap.Time("world_time", worldTime),
			zap.Error(err))
		return
	}
	h.logger.Debug("heartbeat fired", zap.Time("world_time", worldTime))
}
