package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/binder"
	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/internal/pg"
	"github.com/ripkitten-co/inkwell/schema"
)

// CheckpointBinder is the binder BinderCheckpoints keeps positions in.
const CheckpointBinder = "projection_checkpoints"

// Checkpoints tracks the last applied position of each projection.
type Checkpoints interface {
	// Load returns the saved position; ok is false when none was saved.
	Load(ctx context.Context, name string) (pos channel.Position, ok bool, err error)
	Save(ctx context.Context, name string, pos channel.Position) error
	Clear(ctx context.Context, name string) error
}

// BinderCheckpoints stores one {"position": n} document per projection.
type BinderCheckpoints struct {
	binder *binder.Binder
}

// NewBinderCheckpoints opens the checkpoint binder in store.
func NewBinderCheckpoints(ctx context.Context, store *binder.Store) (*BinderCheckpoints, error) {
	b, err := store.Open(ctx, CheckpointBinder)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: %w", err)
	}
	return &BinderCheckpoints{binder: b}, nil
}

func (c *BinderCheckpoints) Load(ctx context.Context, name string) (channel.Position, bool, error) {
	doc, ok, err := c.binder.Get(ctx, name)
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: load: %w", name, err)
	}
	if !ok {
		return 0, false, nil
	}
	pos, ok := doc.Int("position")
	if !ok {
		return 0, false, fmt.Errorf("checkpoint %s: load: %w", name, inkwell.ErrCorruptDocument)
	}
	return channel.Position(pos), true, nil
}

func (c *BinderCheckpoints) Save(ctx context.Context, name string, pos channel.Position) error {
	if err := c.binder.Put(ctx, name, inkwell.Document{"position": int64(pos)}); err != nil {
		return fmt.Errorf("checkpoint %s: save: %w", name, err)
	}
	return nil
}

func (c *BinderCheckpoints) Clear(ctx context.Context, name string) error {
	if _, err := c.binder.Delete(ctx, name); err != nil {
		return fmt.Errorf("checkpoint %s: clear: %w", name, err)
	}
	return nil
}

// PGCheckpoints keeps positions in the inkwell_projection_checkpoints
// table, for nodes whose binders live outside PostgreSQL.
type PGCheckpoints struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

func NewPGCheckpoints(exec pg.Executor) *PGCheckpoints {
	return &PGCheckpoints{exec: exec, schema: schema.New()}
}

func (c *PGCheckpoints) Load(ctx context.Context, name string) (channel.Position, bool, error) {
	if err := c.schema.EnsureCheckpoints(ctx, c.exec); err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	var pos int64
	err := c.exec.QueryRow(ctx,
		`SELECT last_position FROM inkwell_projection_checkpoints WHERE projection_name = $1`,
		name,
	).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: load: %w", name, err)
	}
	return channel.Position(pos), true, nil
}

func (c *PGCheckpoints) Save(ctx context.Context, name string, pos channel.Position) error {
	if err := c.schema.EnsureCheckpoints(ctx, c.exec); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	_, err := c.exec.Exec(ctx,
		`INSERT INTO inkwell_projection_checkpoints (projection_name, last_position, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (projection_name) DO UPDATE SET last_position = $2, updated_at = now()`,
		name, int64(pos),
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: save: %w", name, err)
	}
	return nil
}

func (c *PGCheckpoints) Clear(ctx context.Context, name string) error {
	if err := c.schema.EnsureCheckpoints(ctx, c.exec); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	_, err := c.exec.Exec(ctx,
		`DELETE FROM inkwell_projection_checkpoints WHERE projection_name = $1`, name)
	if err != nil {
		return fmt.Errorf("checkpoint %s: clear: %w", name, err)
	}
	return nil
}
