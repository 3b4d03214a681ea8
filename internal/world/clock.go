package world

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ClockListener receives world tick events.
type ClockListener interface {
	OnTick(worldTime time.Time)
}

// WorldClock keeps simulated time. Running, it moves by interval*speed on
// every real interval and notifies listeners; otherwise it only moves
// through Advance.
type WorldClock struct {
	mu        sync.RWMutex
	worldTime time.Time
	ticks     int64
	speed     float64
	interval  time.Duration
	listeners []ClockListener

	stop chan struct{}
	done chan struct{}

	logger *zap.Logger
}

// NewWorldClock creates a clock at start. A zero interval leaves the clock
// in manual mode; speed below or equal to zero means real time.
func NewWorldClock(start time.Time, interval time.Duration, speed float64, logger *zap.Logger) *WorldClock {
	if start.IsZero() {
		start = time.Now()
	}
	if speed <= 0 {
		speed = 1
	}
	return &WorldClock{worldTime: start, speed: speed, interval: interval, logger: logger}
}

func (c *WorldClock) AddListener(l ClockListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// WorldTime returns the current simulated time.
func (c *WorldClock) WorldTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.worldTime
}

// Ticks counts every move of the clock, automatic or manual.
func (c *WorldClock) Ticks() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ticks
}

// SetSpeed changes the multiplier from the next automatic tick on.
// Non-positive values are ignored.
func (c *WorldClock) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	c.mu.Lock()
	c.speed = speed
	c.mu.Unlock()
}

// Advance moves world time forward by d without notifying listeners and
// returns the new time.
func (c *WorldClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step(d)
}

// step must be called with mu held.
func (c *WorldClock) step(d time.Duration) time.Time {
	c.worldTime = c.worldTime.Add(d)
	c.ticks++
	return c.worldTime
}

// Start runs the tick loop until Stop. It does nothing in manual mode or
// when already running.
func (c *WorldClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interval <= 0 {
		c.logger.Info("world clock in manual mode", zap.Time("world_time", c.worldTime))
		return
	}
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
	c.logger.Info("world clock started",
		zap.Duration("interval", c.interval),
		zap.Float64("speed", c.speed))
}

// Stop ends the tick loop and waits for a listener call in flight to return.
func (c *WorldClock) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	c.logger.Info("world clock stopped", zap.Time("world_time", c.WorldTime()))
}

func (c *WorldClock) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.fire()
		}
	}
}

func (c *WorldClock) fire() {
	c.mu.Lock()
	wt := c.step(time.Duration(float64(c.interval) * c.speed))
	listeners := append([]ClockListener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnTick(wt)
	}
}
