// Package pgtransport stores every channel in one PostgreSQL table. Appends
// take a per-channel advisory lock so positions commit in order, and ping a
// LISTEN/NOTIFY channel that wakes polling subscriptions.
//
// Positions come from a table-wide identity column: they strictly increase
// within a channel but are not dense.
package pgtransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/future"
	"github.com/ripkitten-co/inkwell/internal/pg"
	"github.com/ripkitten-co/inkwell/schema"
	"github.com/ripkitten-co/inkwell/transport/poll"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Option func(*Transport)

func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithPollInterval sets how often subscriptions poll without a wakeup.
func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) { t.interval = d }
}

type Transport struct {
	pool     *pg.Pool
	owned    bool
	schema   *schema.Bootstrap
	log      *slog.Logger
	interval time.Duration

	// life is cancelled by Close and ends every subscription.
	life context.Context
	stop context.CancelFunc
}

var (
	_ channel.Transport = (*Transport)(nil)
	_ poll.Reader       = (*Transport)(nil)
)

// Open connects to PostgreSQL and owns the pool.
func Open(ctx context.Context, connString string, opts ...Option) (*Transport, error) {
	pool, err := pg.NewPool(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pgtransport: %w: %v", inkwell.ErrTransportUnavailable, err)
	}
	t, err := New(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

// New uses a pool owned by the caller.
func New(ctx context.Context, pool *pg.Pool, opts ...Option) (*Transport, error) {
	t := &Transport{
		pool:     pool,
		schema:   schema.New(),
		log:      slog.Default(),
		interval: time.Second,
	}
	for _, o := range opts {
		o(t)
	}
	if err := t.schema.EnsureEvents(ctx, pool); err != nil {
		return nil, fmt.Errorf("pgtransport: %w", err)
	}
	t.life, t.stop = context.WithCancel(context.Background())
	return t, nil
}

// Executor exposes the transport's pool so position-bound state such as
// projection checkpoints can live in the same database as the events.
func (t *Transport) Executor() pg.Executor { return t.pool }

func (t *Transport) PublishSync(ctx context.Context, name string, payload []byte) (channel.Position, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return 0, t.wrap("publish", name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", name); err != nil {
		return 0, t.wrap("publish", name, err)
	}

	sql, args, err := psql.Insert(schema.EventsTable).
		Columns("channel", "payload", "checksum").
		Values(name, payload, int64(channel.Checksum(payload))).
		Suffix("RETURNING position").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("pgtransport: publish %s: build sql: %w", name, err)
	}

	var pos int64
	if err := tx.QueryRow(ctx, sql, args...).Scan(&pos); err != nil {
		return 0, t.wrap("publish", name, err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", schema.NotifyChannel, name); err != nil {
		return 0, t.wrap("publish", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, t.wrap("publish", name, err)
	}
	return channel.Position(pos), nil
}

func (t *Transport) PublishAsync(ctx context.Context, name string, payload []byte) *future.Future[channel.Position] {
	return future.Go(func() (channel.Position, error) {
		return t.PublishSync(ctx, name, payload)
	})
}

func (t *Transport) ReadAfter(ctx context.Context, name string, after channel.Position, limit int) ([]channel.Record, error) {
	builder := psql.
		Select("position", "payload", "checksum", "created_at").
		From(schema.EventsTable).
		Where(sq.Eq{"channel": name}).
		Where(sq.Gt{"position": int64(after)}).
		OrderBy("position ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgtransport: read %s: build sql: %w", name, err)
	}

	rows, err := t.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, t.wrap("read", name, err)
	}
	defer rows.Close()

	var result []channel.Record
	for rows.Next() {
		var (
			pos      int64
			checksum int64
			rec      = channel.Record{Channel: name}
		)
		if err := rows.Scan(&pos, &rec.Payload, &checksum, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("pgtransport: read %s: scan: %w", name, err)
		}
		rec.Position = channel.Position(pos)
		rec.Checksum = uint64(checksum)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, t.wrap("read", name, err)
	}
	return result, nil
}

func (t *Transport) Head(ctx context.Context, name string) (channel.Position, error) {
	sql, args, err := psql.Select("COALESCE(MAX(position), 0)").
		From(schema.EventsTable).
		Where(sq.Eq{"channel": name}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("pgtransport: head %s: build sql: %w", name, err)
	}
	var pos int64
	if err := t.pool.QueryRow(ctx, sql, args...).Scan(&pos); err != nil {
		return 0, t.wrap("head", name, err)
	}
	return channel.Position(pos), nil
}

// Subscribe polls the events table and wakes early on NOTIFY.
func (t *Transport) Subscribe(ctx context.Context, name string, after channel.Position, fn channel.RecordFunc) (channel.Subscription, error) {
	if t.life.Err() != nil {
		return nil, fmt.Errorf("pgtransport: subscribe %s: %w", name, inkwell.ErrClosed)
	}

	subCtx, cancel := context.WithCancel(ctx)
	unlink := context.AfterFunc(t.life, cancel)
	wake := make(chan struct{}, 1)
	go t.listen(subCtx, wake)

	sub, err := poll.Subscribe(subCtx, t, name, after, fn,
		poll.WithInterval(t.interval),
		poll.WithWake(wake),
		poll.WithLogger(t.log),
	)
	if err != nil {
		unlink()
		cancel()
		return nil, t.wrap("subscribe", name, err)
	}
	return channel.SubscriptionFunc(func() error {
		unlink()
		cancel()
		return sub.Close()
	}), nil
}

func (t *Transport) listen(ctx context.Context, wake chan<- struct{}) {
	for ctx.Err() == nil {
		if err := t.pool.WaitForNotification(ctx, schema.NotifyChannel); err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Warn("listen for channel events", "error", err)
			select {
			case <-time.After(t.interval):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// Close ends every subscription and releases the pool when the transport
// opened it.
func (t *Transport) Close() error {
	t.stop()
	if t.owned {
		t.pool.Close()
	}
	return nil
}

func (t *Transport) wrap(op, name string, err error) error {
	if pg.IsConnectionError(err) {
		return fmt.Errorf("pgtransport: %s %s: %w: %v", op, name, inkwell.ErrTransportUnavailable, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("pgtransport: %s %s: %w", op, name, err)
}
