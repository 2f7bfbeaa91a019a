// Package storage defines the persistent key to bytes contract a binder is
// built on. A Backend holds named buckets; each binder exclusively owns the
// bucket of the same name.
package storage

import "context"

// Backend creates, enumerates and drops buckets.
type Backend interface {
	// OpenBucket returns the named bucket, creating its storage if absent.
	OpenBucket(ctx context.Context, name string) (Bucket, error)
	// Buckets lists every bucket that exists in the backing storage.
	Buckets(ctx context.Context) ([]string, error)
	// DropBucket removes a bucket and all of its entries.
	DropBucket(ctx context.Context, name string) error
	Close() error
}

// Bucket is a flat id to bytes mapping.
type Bucket interface {
	Name() string
	// Read returns the stored bytes or an error wrapping inkwell.ErrNotFound.
	Read(ctx context.Context, id string) ([]byte, error)
	// Write stores data under id, replacing any previous value.
	Write(ctx context.Context, id string, data []byte) error
	// Delete removes id and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// Keys lists the stored ids in ascending order.
	Keys(ctx context.Context) ([]string, error)
}
