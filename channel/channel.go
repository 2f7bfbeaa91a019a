package channel

import (
	"context"

	"github.com/ripkitten-co/inkwell/future"
)

// RecordFunc receives records on the subscription's delivery goroutine. The
// context is cancelled when the subscription closes; implementations that
// block (a full dispatcher) must honour it.
type RecordFunc func(ctx context.Context, rec Record) error

// Subscription is a cancellable delivery scope.
type Subscription interface {
	// Close stops delivery. It is idempotent and once it returns no further
	// RecordFunc call is in progress or will start.
	Close() error
}

// Source delivers the records of a channel in position order.
type Source interface {
	// Subscribe delivers every record with a position greater than after.
	// Pass Earliest to replay the whole channel or Latest to receive only
	// records appended from now on.
	Subscribe(ctx context.Context, name string, after Position, fn RecordFunc) (Subscription, error)
}

// Sink appends payloads to channels.
type Sink interface {
	// PublishSync appends payload and returns its position once durable.
	PublishSync(ctx context.Context, name string, payload []byte) (Position, error)
	// PublishAsync appends payload in the background. The future always
	// resolves, with the position or the publish error.
	PublishAsync(ctx context.Context, name string, payload []byte) *future.Future[Position]
}

// Transport is a pluggable channel backend.
type Transport interface {
	Source
	Sink
	Close() error
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Close() error { return f() }
