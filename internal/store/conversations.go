package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/smallville/internal/conversation"
)

// SaveConversation upserts a conversation and appends dialog lines not yet
// stored. Lines are keyed by their position, so they are never rewritten.
func (s *Store) SaveConversation(ctx context.Context, v conversation.View) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save conversation %s: begin: %w", v.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, agent, other, state, created_at, last_turn)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			last_turn = EXCLUDED.last_turn`,
		v.ID, v.Agent, v.Other, string(v.State), v.CreatedAt, v.LastTurn,
	)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", v.ID, err)
	}

	batch := &pgx.Batch{}
	for i, d := range v.Dialog {
		batch.Queue(`
			INSERT INTO dialog (conversation_id, seq, speaker, message, said_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (conversation_id, seq) DO NOTHING`,
			v.ID, i, d.Speaker, d.Message, d.At,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save dialog of %s: %w", v.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save conversation %s: commit: %w", v.ID, err)
	}
	return nil
}

// LoadConversations returns every stored conversation with its dialog,
// oldest first.
func (s *Store) LoadConversations(ctx context.Context) ([]conversation.View, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, agent, other, state, created_at, last_turn
		FROM conversations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	views, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (conversation.View, error) {
		var v conversation.View
		err := row.Scan(&v.ID, &v.Agent, &v.Other, &v.State, &v.CreatedAt, &v.LastTurn)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan conversations: %w", err)
	}

	for i := range views {
		rows, err := s.db.Query(ctx, `
			SELECT speaker, message, said_at
			FROM dialog WHERE conversation_id = $1
			ORDER BY seq`, views[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load dialog of %s: %w", views[i].ID, err)
		}
		views[i].Dialog, err = pgx.CollectRows(rows, pgx.RowToStructByPos[conversation.Dialog])
		if err != nil {
			return nil, fmt.Errorf("scan dialog of %s: %w", views[i].ID, err)
		}
	}
	return views, nil
}
