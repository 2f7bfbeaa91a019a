package schema

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/ripkitten-co/inkwell/internal/pg"
)

var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,54}$`)

// ValidateName checks that name is a valid binder identifier (alphanumeric
// + underscores, max 55 characters, starts with a letter). Binder names end
// up in table names, so they are never quoted user input.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("schema: invalid name %q: must be alphanumeric with underscores, max 55 chars", name)
	}
	return nil
}

// BinderTable returns the table backing the named binder.
func BinderTable(name string) string {
	return "inkwell_" + name
}

const (
	// CatalogTable lists every binder so stores can enumerate them at startup.
	CatalogTable = "inkwell_binders"
	// EventsTable holds the records of every channel.
	EventsTable = "inkwell_channel_events"
	// NotifyChannel is the LISTEN/NOTIFY channel pinged on every append.
	NotifyChannel = "inkwell_channel_events"
	// CheckpointsTable holds the last applied position of each projection.
	CheckpointsTable = "inkwell_projection_checkpoints"
)

func binderDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS inkwell_%s (
	id TEXT PRIMARY KEY,
	data BYTEA NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, name)
}

func catalogDDL() string {
	return `CREATE TABLE IF NOT EXISTS inkwell_binders (
	name TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

func eventsDDL() string {
	return `CREATE TABLE IF NOT EXISTS inkwell_channel_events (
	position BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	channel TEXT NOT NULL,
	payload BYTEA NOT NULL,
	checksum BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

func checkpointsDDL() string {
	return `CREATE TABLE IF NOT EXISTS inkwell_projection_checkpoints (
	projection_name TEXT PRIMARY KEY,
	last_position BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

func eventsIndexDDL() string {
	return `CREATE INDEX IF NOT EXISTS idx_inkwell_channel_events_channel ON inkwell_channel_events (channel, position)`
}

// Bootstrap manages idempotent creation of inkwell tables. It caches which
// tables have been created to avoid repeated DDL.
type Bootstrap struct {
	tables sync.Map
}

// New returns a Bootstrap with an empty cache.
func New() *Bootstrap {
	return &Bootstrap{}
}

// IsCreated reports whether the named table has been created through this
// bootstrap.
func (b *Bootstrap) IsCreated(table string) bool {
	_, ok := b.tables.Load(table)
	return ok
}

// MarkCreated records that the named table exists.
func (b *Bootstrap) MarkCreated(table string) {
	b.tables.Store(table, true)
}

// InvalidateTable removes a table from the cache so the next Ensure call
// re-runs the DDL. Used after dropping a binder.
func (b *Bootstrap) InvalidateTable(table string) {
	b.tables.Delete(table)
}

// EnsureCatalog creates the binder catalog table if it doesn't exist.
func (b *Bootstrap) EnsureCatalog(ctx context.Context, exec pg.Executor) error {
	if b.IsCreated(CatalogTable) {
		return nil
	}
	if _, err := exec.Exec(ctx, catalogDDL()); err != nil {
		return fmt.Errorf("schema: create binder catalog: %w", err)
	}
	b.MarkCreated(CatalogTable)
	return nil
}

// EnsureBinder creates the inkwell_{name} table and registers it in the
// catalog.
func (b *Bootstrap) EnsureBinder(ctx context.Context, exec pg.Executor, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	table := BinderTable(name)
	if b.IsCreated(table) {
		return nil
	}
	if err := b.EnsureCatalog(ctx, exec); err != nil {
		return err
	}
	if _, err := exec.Exec(ctx, binderDDL(name)); err != nil {
		return fmt.Errorf("schema: create table %s: %w", table, err)
	}
	_, err := exec.Exec(ctx,
		`INSERT INTO inkwell_binders (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("schema: register binder %s: %w", name, err)
	}
	b.MarkCreated(table)
	return nil
}

// EnsureEvents creates the channel events table and its channel index.
func (b *Bootstrap) EnsureEvents(ctx context.Context, exec pg.Executor) error {
	if b.IsCreated(EventsTable) {
		return nil
	}
	if _, err := exec.Exec(ctx, eventsDDL()); err != nil {
		return fmt.Errorf("schema: create events table: %w", err)
	}
	if _, err := exec.Exec(ctx, eventsIndexDDL()); err != nil {
		return fmt.Errorf("schema: create events index: %w", err)
	}
	b.MarkCreated(EventsTable)
	return nil
}

// EnsureCheckpoints creates the projection checkpoints table.
func (b *Bootstrap) EnsureCheckpoints(ctx context.Context, exec pg.Executor) error {
	if b.IsCreated(CheckpointsTable) {
		return nil
	}
	if _, err := exec.Exec(ctx, checkpointsDDL()); err != nil {
		return fmt.Errorf("schema: create projection checkpoints: %w", err)
	}
	b.MarkCreated(CheckpointsTable)
	return nil
}
