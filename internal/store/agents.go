package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/memory"
)

// SaveAgent upserts an agent and its whole memory stream in one
// transaction. Memories are keyed by ID so saving again only updates
// importance and embedding.
func (s *Store) SaveAgent(ctx context.Context, a *agent.Agent) error {
	v := a.View()
	description, err := json.Marshal(v.Description)
	if err != nil {
		return fmt.Errorf("marshal description: %w", err)
	}
	plans, err := json.Marshal(v.Plans)
	if err != nil {
		return fmt.Errorf("marshal plans: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save agent %s: begin: %w", v.Name, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO agents (name, description, current_activity, last_activity, location, emoji, plans, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			current_activity = EXCLUDED.current_activity,
			last_activity = EXCLUDED.last_activity,
			location = EXCLUDED.location,
			emoji = EXCLUDED.emoji,
			plans = EXCLUDED.plans,
			updated_at = EXCLUDED.updated_at`,
		v.Name, description, v.CurrentActivity, v.LastActivity, v.Location, v.Emoji, plans, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", v.Name, err)
	}

	batch := &pgx.Batch{}
	for _, m := range a.Memory().All() {
		batch.Queue(`
			INSERT INTO memories (id, agent, description, observed_at, importance, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				importance = EXCLUDED.importance,
				embedding = COALESCE(EXCLUDED.embedding, memories.embedding)`,
			m.ID, v.Name, m.Description, m.Timestamp, m.Importance, vector(m.Embedding),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save memories of %s: %w", v.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save agent %s: commit: %w", v.Name, err)
	}
	return nil
}

// vector converts an embedding for insertion; nil stays NULL.
func vector(e []float32) *pgvector.Vector {
	if len(e) == 0 {
		return nil
	}
	v := pgvector.NewVector(e)
	return &v
}

// LoadAgents rebuilds every stored agent with its memory stream scored by
// cfg.
func (s *Store) LoadAgents(ctx context.Context, cfg memory.ScoreConfig) ([]*agent.Agent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT name, description, current_activity, last_activity, location, emoji, plans, updated_at
		FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	views, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (agent.View, error) {
		var v agent.View
		var description, plans []byte
		if err := row.Scan(&v.Name, &description, &v.CurrentActivity, &v.LastActivity,
			&v.Location, &v.Emoji, &plans, &v.UpdatedAt); err != nil {
			return v, err
		}
		if err := json.Unmarshal(description, &v.Description); err != nil {
			return v, fmt.Errorf("description of %s: %w", v.Name, err)
		}
		if err := json.Unmarshal(plans, &v.Plans); err != nil {
			return v, fmt.Errorf("plans of %s: %w", v.Name, err)
		}
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan agents: %w", err)
	}

	agents := make([]*agent.Agent, 0, len(views))
	for _, v := range views {
		ms, err := s.LoadMemories(ctx, v.Name)
		if err != nil {
			return nil, err
		}
		stream := memory.NewStream(cfg)
		stream.Restore(ms)
		agents = append(agents, agent.Restore(v, stream))
	}
	return agents, nil
}

// LoadMemories returns an agent's memories in the order they were stored.
func (s *Store) LoadMemories(ctx context.Context, agentName string) ([]memory.Memory, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, description, observed_at, importance, embedding
		FROM memories WHERE agent = $1
		ORDER BY seq`, agentName)
	if err != nil {
		return nil, fmt.Errorf("load memories of %s: %w", agentName, err)
	}
	ms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Memory, error) {
		var (
			m   memory.Memory
			vec *pgvector.Vector
		)
		if err := row.Scan(&m.ID, &m.Description, &m.Timestamp, &m.Importance, &vec); err != nil {
			return m, err
		}
		if vec != nil {
			m.Embedding = vec.Slice()
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan memories of %s: %w", agentName, err)
	}
	return ms, nil
}
