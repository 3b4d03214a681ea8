// Package orchestrator drives simulation ticks: it snapshots the town, runs
// every agent's pipeline in parallel and commits the results.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/conversation"
	"github.com/nidhogg/smallville/internal/observe"
	"github.com/nidhogg/smallville/internal/pipeline"
	"github.com/nidhogg/smallville/internal/world"
)

// Persister stores the state that changed during a tick.
type Persister interface {
	SaveAgent(ctx context.Context, a *agent.Agent) error
	SaveConversation(ctx context.Context, v conversation.View) error
	SaveObjects(ctx context.Context, objects []world.Object) error
}

// Options tune the driver.
type Options struct {
	// Parallelism bounds how many agents think at once. Defaults to 4.
	Parallelism int
	// ConversationIdle ends conversations without a turn for this long
	// in world time.
	ConversationIdle time.Duration
}

// Report summarizes one tick.
type Report struct {
	Tick      int64            `json:"tick"`
	Time      time.Time        `json:"time"`
	Agents    int              `json:"agents"`
	Committed int              `json:"committed"`
	Ended     []string         `json:"ended_conversations,omitempty"`
	Events    []pipeline.Event `json:"events"`
	Traces    []pipeline.Trace `json:"traces"`
	Errors    []string         `json:"errors,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// Driver runs ticks. Ticks are serialized.
type Driver struct {
	town       *world.Town
	agents     *agent.Registry
	pipeline   *pipeline.Pipeline
	convs      *conversation.Manager
	opts       Options
	publishers []Publisher
	persister  Persister
	metrics    *observe.Metrics
	logger     *zap.Logger

	tickMu   sync.Mutex
	mu       sync.RWMutex
	ticks    int64
	last     Report
	openConv int64
}

// NewDriver creates a tick driver.
func NewDriver(town *world.Town, agents *agent.Registry, p *pipeline.Pipeline, convs *conversation.Manager, opts Options, logger *zap.Logger) *Driver {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	return &Driver{
		town:     town,
		agents:   agents,
		pipeline: p,
		convs:    convs,
		opts:     opts,
		logger:   logger,
	}
}

// AddPublisher registers an event sink.
func (d *Driver) AddPublisher(p Publisher) { d.publishers = append(d.publishers, p) }

// SetPersister sets where tick results are stored.
func (d *Driver) SetPersister(p Persister) { d.persister = p }

// SetMetrics enables tick metrics.
func (d *Driver) SetMetrics(m *observe.Metrics) { d.metrics = m }

// Snapshot captures the town and every agent at worldTime.
func (d *Driver) Snapshot(worldTime time.Time) world.Snapshot {
	agents := d.agents.List()
	residents := make([]world.Resident, len(agents))
	for i, a := range agents {
		v := a.View()
		residents[i] = world.Resident{
			Name:        v.Name,
			Description: v.Description,
			Location:    v.Location,
			Activity:    v.CurrentActivity,
		}
	}
	return d.town.Snapshot(worldTime, residents)
}

// Tick runs one simulation tick at worldTime. Every agent runs its pipeline
// against the same snapshot; object updates are committed only after all of
// them finished. The returned error joins the contract errors of all
// agents.
func (d *Driver) Tick(ctx context.Context, worldTime time.Time) error {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	start := time.Now()
	snap := d.Snapshot(worldTime)
	agents := d.agents.List()

	results := make([]pipeline.Result, len(agents))
	failures := make([]error, len(agents))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.opts.Parallelism)
	for i, a := range agents {
		eg.Go(func() error {
			a.SetStatus(agent.StatusThinking)
			results[i], failures[i] = d.pipeline.Run(egCtx, a, snap)
			if d.busy(a.Name()) {
				a.SetStatus(agent.StatusTalking)
			} else {
				a.SetStatus(agent.StatusIdle)
			}
			return nil
		})
	}
	eg.Wait()

	d.mu.Lock()
	d.ticks++
	report := Report{Tick: d.ticks, Time: worldTime, Agents: len(agents)}
	d.mu.Unlock()

	var updates []world.ObjectUpdate
	for i, res := range results {
		updates = append(updates, res.ObjectUpdates...)
		report.Events = append(report.Events, res.Events...)
		report.Traces = append(report.Traces, res.Trace)
		if failures[i] != nil {
			report.Errors = append(report.Errors, failures[i].Error())
		}
	}

	committed, err := d.town.Commit(updates)
	report.Committed = committed
	if err != nil {
		d.logger.Warn("some object updates were not applied", zap.Error(err))
	}

	if d.opts.ConversationIdle > 0 {
		for _, c := range d.convs.Sweep(worldTime, d.opts.ConversationIdle) {
			report.Ended = append(report.Ended, c.ID)
		}
	}

	d.publish(ctx, report.Events)
	d.persist(ctx, agents, committed > 0)

	report.Duration = time.Since(start)
	d.record(ctx, report)

	d.logger.Info("tick finished",
		zap.Int64("tick", report.Tick),
		zap.Time("world_time", worldTime),
		zap.Int("agents", report.Agents),
		zap.Int("events", len(report.Events)),
		zap.Int("committed", committed),
		zap.Duration("duration", report.Duration))

	return errors.Join(failures...)
}

func (d *Driver) busy(name string) bool {
	for _, c := range d.convs.For(name) {
		if c.State() != conversation.StateEnded {
			return true
		}
	}
	return false
}

func (d *Driver) publish(ctx context.Context, events []pipeline.Event) {
	for _, p := range d.publishers {
		for _, ev := range events {
			if err := p.Publish(ctx, ev); err != nil {
				d.logger.Warn("publish event", zap.String("agent", ev.Agent), zap.Error(err))
				break
			}
		}
	}
}

func (d *Driver) persist(ctx context.Context, agents []*agent.Agent, objectsChanged bool) {
	if d.persister == nil {
		return
	}
	for _, a := range agents {
		if err := d.persister.SaveAgent(ctx, a); err != nil {
			d.logger.Warn("save agent", zap.String("agent", a.Name()), zap.Error(err))
		}
	}
	for _, c := range d.convs.List() {
		if err := d.persister.SaveConversation(ctx, c.View()); err != nil {
			d.logger.Warn("save conversation", zap.String("id", c.ID), zap.Error(err))
		}
	}
	if objectsChanged {
		if err := d.persister.SaveObjects(ctx, d.town.Objects()); err != nil {
			d.logger.Warn("save objects", zap.Error(err))
		}
	}
}

func (d *Driver) record(ctx context.Context, r Report) {
	open := int64(d.convs.Open())
	d.mu.Lock()
	d.last = r
	delta := open - d.openConv
	d.openConv = open
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordTick(ctx, r.Duration)
		d.metrics.ActiveConversations.Add(ctx, delta)
	}
}

// LastReport returns the report of the most recent tick.
func (d *Driver) LastReport() Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Ticks returns how many ticks have run.
func (d *Driver) Ticks() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ticks
}
