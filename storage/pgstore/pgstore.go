// Package pgstore keeps binders in PostgreSQL, one inkwell_<name> table per
// binder plus the inkwell_binders catalog used to enumerate them.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/internal/pg"
	"github.com/ripkitten-co/inkwell/schema"
	"github.com/ripkitten-co/inkwell/storage"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Backend struct {
	pool   *pg.Pool
	owned  bool
	schema *schema.Bootstrap
}

// Open connects to PostgreSQL. The backend owns the pool and closes it.
func Open(ctx context.Context, connString string) (*Backend, error) {
	pool, err := pg.NewPool(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	return &Backend{pool: pool, owned: true, schema: schema.New()}, nil
}

// New builds a backend on a shared pool that the caller keeps ownership of.
func New(pool *pg.Pool) *Backend {
	return &Backend{pool: pool, schema: schema.New()}
}

func (b *Backend) OpenBucket(ctx context.Context, name string) (storage.Bucket, error) {
	if err := b.schema.EnsureBinder(ctx, b.pool, name); err != nil {
		return nil, fmt.Errorf("pgstore: open %s: %w", name, err)
	}
	return &bucket{name: name, table: schema.BinderTable(name), exec: b.pool}, nil
}

func (b *Backend) Buckets(ctx context.Context) ([]string, error) {
	if err := b.schema.EnsureCatalog(ctx, b.pool); err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	query, args, err := psql.Select("name").From(schema.CatalogTable).OrderBy("name ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgstore: list: build sql: %w", err)
	}
	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	return names, nil
}

func (b *Backend) DropBucket(ctx context.Context, name string) error {
	if err := schema.ValidateName(name); err != nil {
		return fmt.Errorf("pgstore: drop: %w", err)
	}
	if err := b.schema.EnsureCatalog(ctx, b.pool); err != nil {
		return fmt.Errorf("pgstore: drop %s: %w", name, err)
	}

	query, args, err := psql.Delete(schema.CatalogTable).Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return fmt.Errorf("pgstore: drop %s: build sql: %w", name, err)
	}
	tag, err := b.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("pgstore: drop %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: drop %s: %w", name, inkwell.ErrNotFound)
	}

	table := schema.BinderTable(name)
	if _, err := b.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("pgstore: drop table %s: %w", table, err)
	}
	b.schema.InvalidateTable(table)
	return nil
}

func (b *Backend) Close() error {
	if b.owned {
		b.pool.Close()
	}
	return nil
}

type bucket struct {
	name  string
	table string
	exec  pg.Executor
}

func (b *bucket) Name() string { return b.name }

func (b *bucket) Read(ctx context.Context, id string) ([]byte, error) {
	query, args, err := psql.Select("data").From(b.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgstore %s: read %s: build sql: %w", b.name, id, err)
	}

	var data []byte
	err = b.exec.QueryRow(ctx, query, args...).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pgstore %s: read %s: %w", b.name, id, inkwell.ErrNotFound)
		}
		return nil, fmt.Errorf("pgstore %s: read %s: %w", b.name, id, err)
	}
	return data, nil
}

func (b *bucket) Write(ctx context.Context, id string, data []byte) error {
	query, args, err := psql.Insert(b.table).
		Columns("id", "data").
		Values(id, data).
		Suffix("ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, version = " + b.table + ".version + 1, updated_at = now()").
		ToSql()
	if err != nil {
		return fmt.Errorf("pgstore %s: write %s: build sql: %w", b.name, id, err)
	}
	if _, err := b.exec.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("pgstore %s: write %s: %w", b.name, id, err)
	}
	return nil
}

func (b *bucket) Delete(ctx context.Context, id string) (bool, error) {
	query, args, err := psql.Delete(b.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("pgstore %s: delete %s: build sql: %w", b.name, id, err)
	}
	tag, err := b.exec.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("pgstore %s: delete %s: %w", b.name, id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (b *bucket) Keys(ctx context.Context) ([]string, error) {
	query, args, err := psql.Select("id").From(b.table).OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgstore %s: keys: build sql: %w", b.name, err)
	}
	rows, err := b.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore %s: keys: %w", b.name, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("pgstore %s: keys: %w", b.name, err)
	}
	return keys, nil
}
