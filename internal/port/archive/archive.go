// Package archive defines the port for long-term storage of terminal tasks.
package archive

import (
	"context"

	"github.com/Strob0t/contractreview/internal/domain/task"
)

// Archive stores terminal task snapshots so they stay readable after the
// in-memory retention sweep removed them.
type Archive interface {
	// Save upserts a terminal snapshot.
	Save(ctx context.Context, t *task.Task) error
	// Load returns domain.ErrNotFound when the id was never archived.
	Load(ctx context.Context, id string) (*task.Task, error)
}
