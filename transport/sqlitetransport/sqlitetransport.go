// Package sqlitetransport keeps channel logs in a SQLite file. Positions are
// dense per channel, starting at 1. Subscriptions poll the file and are
// woken immediately by appends made through the same Transport.
package sqlitetransport

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/future"
	"github.com/ripkitten-co/inkwell/transport/poll"
)

//go:embed schema.sql
var schemaSQL string

type Option func(*Transport)

func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithPollInterval sets how often subscriptions look for appends made by
// other processes.
func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) { t.interval = d }
}

type Transport struct {
	db       *sql.DB
	owned    bool
	log      *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	wakers map[chan struct{}]channel.Subscription
	closed bool
}

var (
	_ channel.Transport = (*Transport)(nil)
	_ poll.Reader       = (*Transport)(nil)
)

// Open creates or opens the log file at path.
func Open(path string, opts ...Option) (*Transport, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitetransport: path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitetransport: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t, err := New(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

// New uses a database handle owned by the caller, for example the one of a
// sqlitestore backend.
func New(db *sql.DB, opts ...Option) (*Transport, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("sqlitetransport: apply schema: %w", err)
	}
	t := &Transport{
		db:       db,
		log:      slog.Default(),
		interval: 250 * time.Millisecond,
		wakers:   make(map[chan struct{}]channel.Subscription),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

func (t *Transport) PublishSync(ctx context.Context, name string, payload []byte) (channel.Position, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, fmt.Errorf("sqlitetransport: publish %s: %w", name, inkwell.ErrClosed)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlitetransport: publish %s: %w", name, err)
	}
	defer tx.Rollback()

	query, args, err := sq.Select("COALESCE(MAX(position), 0)").
		From("channel_events").
		Where(sq.Eq{"channel": name}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("sqlitetransport: publish %s: build sql: %w", name, err)
	}
	var head int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&head); err != nil {
		return 0, fmt.Errorf("sqlitetransport: publish %s: %w", name, err)
	}

	pos := head + 1
	query, args, err = sq.Insert("channel_events").
		Columns("channel", "position", "payload", "checksum", "created_at").
		Values(name, pos, payload, int64(channel.Checksum(payload)), time.Now().UTC().UnixMilli()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("sqlitetransport: publish %s: build sql: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("sqlitetransport: publish %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlitetransport: publish %s: commit: %w", name, err)
	}

	t.wake()
	return channel.Position(pos), nil
}

func (t *Transport) PublishAsync(ctx context.Context, name string, payload []byte) *future.Future[channel.Position] {
	return future.Go(func() (channel.Position, error) {
		return t.PublishSync(ctx, name, payload)
	})
}

func (t *Transport) ReadAfter(ctx context.Context, name string, after channel.Position, limit int) ([]channel.Record, error) {
	builder := sq.Select("position", "payload", "checksum", "created_at").
		From("channel_events").
		Where(sq.Eq{"channel": name}).
		Where(sq.Gt{"position": int64(after)}).
		OrderBy("position ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlitetransport: read %s: build sql: %w", name, err)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitetransport: read %s: %w", name, err)
	}
	defer rows.Close()

	var out []channel.Record
	for rows.Next() {
		var pos, checksum, createdAt int64
		var payload []byte
		if err := rows.Scan(&pos, &payload, &checksum, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlitetransport: read %s: scan: %w", name, err)
		}
		out = append(out, channel.Record{
			Channel:   name,
			Position:  channel.Position(pos),
			Timestamp: time.UnixMilli(createdAt).UTC(),
			Payload:   payload,
			Checksum:  uint64(checksum),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitetransport: read %s: %w", name, err)
	}
	return out, nil
}

func (t *Transport) Head(ctx context.Context, name string) (channel.Position, error) {
	query, args, err := sq.Select("COALESCE(MAX(position), 0)").
		From("channel_events").
		Where(sq.Eq{"channel": name}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("sqlitetransport: head %s: build sql: %w", name, err)
	}
	var pos int64
	if err := t.db.QueryRowContext(ctx, query, args...).Scan(&pos); err != nil {
		return 0, fmt.Errorf("sqlitetransport: head %s: %w", name, err)
	}
	return channel.Position(pos), nil
}

func (t *Transport) Subscribe(ctx context.Context, name string, after channel.Position, fn channel.RecordFunc) (channel.Subscription, error) {
	wake := make(chan struct{}, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("sqlitetransport: subscribe %s: %w", name, inkwell.ErrClosed)
	}
	t.wakers[wake] = nil
	t.mu.Unlock()

	sub, err := poll.Subscribe(ctx, t, name, after, fn,
		poll.WithInterval(t.interval),
		poll.WithWake(wake),
		poll.WithLogger(t.log),
	)
	if err != nil {
		t.removeWaker(wake)
		return nil, fmt.Errorf("sqlitetransport: subscribe %s: %w", name, err)
	}

	var once sync.Once
	closer := channel.SubscriptionFunc(func() error {
		once.Do(func() {
			sub.Close()
			t.removeWaker(wake)
		})
		return nil
	})
	t.mu.Lock()
	t.wakers[wake] = closer
	t.mu.Unlock()
	return closer, nil
}

func (t *Transport) wake() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for w := range t.wakers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

func (t *Transport) removeWaker(w chan struct{}) {
	t.mu.Lock()
	delete(t.wakers, w)
	t.mu.Unlock()
}

// Close stops every subscription, rejects later publishes and closes the
// file when the transport opened it.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]channel.Subscription, 0, len(t.wakers))
	for _, sub := range t.wakers {
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	t.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	if t.owned {
		return t.db.Close()
	}
	return nil
}
