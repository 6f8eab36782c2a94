package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/contractreview/internal/domain/task"
	"github.com/Strob0t/contractreview/internal/port/archive"
)

// Archive implements archive.Archive on the archived_tasks table.
type Archive struct {
	pool *pgxpool.Pool
}

var _ archive.Archive = (*Archive)(nil)

// NewArchive creates an Archive backed by the given connection pool.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// Save upserts a terminal snapshot. An older version never overwrites a
// newer one.
func (a *Archive) Save(ctx context.Context, t *task.Task) error {
	if !t.State.IsTerminal() {
		return fmt.Errorf("archive task %s: state %s is not terminal", t.ID, t.State)
	}
	snapshot, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}

	_, err = a.pool.Exec(ctx,
		`INSERT INTO archived_tasks (id, state, version, snapshot, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET state = EXCLUDED.state, version = EXCLUDED.version, snapshot = EXCLUDED.snapshot,
		     updated_at = EXCLUDED.updated_at, archived_at = now()
		 WHERE archived_tasks.version < EXCLUDED.version`,
		t.ID, string(t.State), t.Version, snapshot, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("archive task %s: %w", t.ID, err)
	}
	return nil
}

// Load returns the archived snapshot for id.
func (a *Archive) Load(ctx context.Context, id string) (*task.Task, error) {
	row := a.pool.QueryRow(ctx, `SELECT snapshot FROM archived_tasks WHERE id = $1`, id)
	t, err := scanSnapshot(row)
	if err != nil {
		return nil, notFoundWrap(err, "load archived task %s", id)
	}
	return t, nil
}

func scanSnapshot(row scannable) (*task.Task, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &t, nil
}
