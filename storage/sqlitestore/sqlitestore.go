// Package sqlitestore keeps every binder of a node in one SQLite file.
//
// The database is opened with WAL journaling, a 5 second busy timeout and
// foreign keys enforced, and is limited to a single connection: binders
// already serialize their own writes, and SQLite only admits one writer.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/schema"
	"github.com/ripkitten-co/inkwell/storage"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

type Backend struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// Opening the same path again sees every binder written before.
func Open(path string) (*Backend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	return &Backend{db: db}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// DB exposes the handle so a SQLite transport can share the file.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) OpenBucket(ctx context.Context, name string) (storage.Bucket, error) {
	if err := schema.ValidateName(name); err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	query, args, err := sq.Insert("binders").
		Columns("name", "created_at").
		Values(name, time.Now().UTC().UnixMilli()).
		Suffix("ON CONFLICT(name) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: build sql: %w", name, err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", name, err)
	}
	return &bucket{name: name, db: b.db}, nil
}

func (b *Backend) Buckets(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("name").From("binders").OrderBy("name ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: build sql: %w", err)
	}
	return queryStrings(ctx, b.db, query, args)
}

func (b *Backend) DropBucket(ctx context.Context, name string) error {
	query, args, err := sq.Delete("binders").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return fmt.Errorf("sqlitestore: drop %s: build sql: %w", name, err)
	}
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlitestore: drop %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlitestore: drop %s: %w", name, inkwell.ErrNotFound)
	}
	return nil
}

func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

type bucket struct {
	name string
	db   *sql.DB
}

func (b *bucket) Name() string { return b.name }

func (b *bucket) Read(ctx context.Context, id string) ([]byte, error) {
	query, args, err := sq.Select("data").From("documents").
		Where(sq.Eq{"binder": b.name, "id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore %s: read %s: build sql: %w", b.name, id, err)
	}
	var data []byte
	err = b.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlitestore %s: read %s: %w", b.name, id, inkwell.ErrNotFound)
		}
		return nil, fmt.Errorf("sqlitestore %s: read %s: %w", b.name, id, err)
	}
	return data, nil
}

func (b *bucket) Write(ctx context.Context, id string, data []byte) error {
	query, args, err := sq.Insert("documents").
		Columns("binder", "id", "data", "updated_at").
		Values(b.name, id, data, time.Now().UTC().UnixMilli()).
		Suffix("ON CONFLICT(binder, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlitestore %s: write %s: build sql: %w", b.name, id, err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlitestore %s: write %s: %w", b.name, id, err)
	}
	return nil
}

func (b *bucket) Delete(ctx context.Context, id string) (bool, error) {
	query, args, err := sq.Delete("documents").Where(sq.Eq{"binder": b.name, "id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("sqlitestore %s: delete %s: build sql: %w", b.name, id, err)
	}
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("sqlitestore %s: delete %s: %w", b.name, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlitestore %s: delete %s: %w", b.name, id, err)
	}
	return n > 0, nil
}

func (b *bucket) Keys(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("id").From("documents").
		Where(sq.Eq{"binder": b.name}).OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore %s: keys: build sql: %w", b.name, err)
	}
	keys, err := queryStrings(ctx, b.db, query, args)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore %s: keys: %w", b.name, err)
	}
	return keys, nil
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args []any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
