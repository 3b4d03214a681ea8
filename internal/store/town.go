package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/smallville/internal/world"
)

// SaveLocation upserts a location.
func (s *Store) SaveLocation(ctx context.Context, loc world.Location) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO locations (full_name, name, parent)
		VALUES ($1, $2, $3)
		ON CONFLICT (full_name) DO NOTHING`,
		loc.FullName(), loc.Name, loc.Parent,
	)
	if err != nil {
		return fmt.Errorf("save location %s: %w", loc.FullName(), err)
	}
	return nil
}

// SaveObjects upserts objects in one batch.
func (s *Store) SaveObjects(ctx context.Context, objects []world.Object) error {
	if len(objects) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range objects {
		batch.Queue(`
			INSERT INTO objects (location, name, state, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (location, name) DO UPDATE SET
				state = EXCLUDED.state,
				updated_at = EXCLUDED.updated_at`,
			o.Location, o.Name, o.State,
		)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save objects: %w", err)
	}
	return nil
}

// LoadTown adds the stored locations, parents first, and objects to t.
func (s *Store) LoadTown(ctx context.Context, t *world.Town) error {
	rows, err := s.db.Query(ctx, `SELECT name, parent FROM locations ORDER BY position`)
	if err != nil {
		return fmt.Errorf("load locations: %w", err)
	}
	locations, err := pgx.CollectRows(rows, pgx.RowToStructByPos[world.Location])
	if err != nil {
		return fmt.Errorf("scan locations: %w", err)
	}
	for _, l := range locations {
		if _, err := t.AddLocation(l.Name, l.Parent); err != nil {
			return fmt.Errorf("restore location: %w", err)
		}
	}

	rows, err = s.db.Query(ctx, `SELECT name, location, state FROM objects ORDER BY location, name`)
	if err != nil {
		return fmt.Errorf("load objects: %w", err)
	}
	objects, err := pgx.CollectRows(rows, pgx.RowToStructByPos[world.Object])
	if err != nil {
		return fmt.Errorf("scan objects: %w", err)
	}
	for _, o := range objects {
		if _, err := t.AddObject(o.Name, o.Location, o.State); err != nil {
			return fmt.Errorf("restore object: %w", err)
		}
	}
	return nil
}
