// Package storagetest holds the behaviour every storage.Backend must share.
// Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/storage"
)

// Run exercises a fresh backend returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Backend) {
	t.Run("OpenBucketIsIdempotent", func(t *testing.T) {
		be := open(t)
		ctx := context.Background()

		b1, err := be.OpenBucket(ctx, "orders")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := b1.Write(ctx, "o1", []byte(`{"n":1}`)); err != nil {
			t.Fatalf("write: %v", err)
		}

		b2, err := be.OpenBucket(ctx, "orders")
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		got, err := b2.Read(ctx, "o1")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(got) != `{"n":1}` {
			t.Errorf("got %s", got)
		}
	})

	t.Run("ReadMissing", func(t *testing.T) {
		be := open(t)
		ctx := context.Background()
		b, err := be.OpenBucket(ctx, "orders")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		_, err = b.Read(ctx, "nope")
		if !errors.Is(err, inkwell.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("WriteReplaces", func(t *testing.T) {
		be := open(t)
		ctx := context.Background()
		b, _ := be.OpenBucket(ctx, "orders")
		_ = b.Write(ctx, "o1", []byte("first"))
		if err := b.Write(ctx, "o1", []byte("second")); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := b.Read(ctx, "o1")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(got) != "second" {
			t.Errorf("got %s, want second", got)
		}
	})

	t.Run("DeleteReportsExistence", func(t *testing.T) {
		be := open(t)
		ctx := context.Background()
		b, _ := be.OpenBucket(ctx, "orders")
		_ = b.Write(ctx, "o1", []byte("x"))

		ok, err := b.Delete(ctx, "o1")
		if err != nil || !ok {
			t.Fatalf("delete existing: (%v, %v)", ok, err)
		}
		ok, err = b.Delete(ctx, "o1")
		if err != nil || ok {
			t.Fatalf("delete missing: (%v, %v)", ok, err)
		}
		if _, err := b.Read(ctx, "o1"); !errors.Is(err, inkwell.ErrNotFound) {
			t.Errorf("read after delete: %v", err)
		}
	})

	t.Run("KeysSorted", func(t *testing.T) {
		be := open(t)
		ctx := context.Background()
		b, _ := be.OpenBucket(ctx, "orders")
		for _, id := range []string{"c", "a", "b"} {
			if err := b.Write(ctx, id, []byte(id)); err != nil {
				t.Fatalf("write %s: %v", id, err)
			}
		}
		keys, err := b.Keys(ctx)
		if err != nil {
			t.Fatalf("keys: %v", err)
		}
		if !slices.Equal(keys, []string{"a", "b", "c"}) {
			t.Errorf("got %v", keys)
		}
	})

	t.Run("BucketsIsolatedAndListed", func(t *testing.T) {
		be := open(t)
		ctx := context.Background()
		a, _ := be.OpenBucket(ctx, "alpha")
		b, _ := be.OpenBucket(ctx, "beta")
		_ = a.Write(ctx, "k", []byte("a"))
		_ = b.Write(ctx, "k", []byte("b"))

		got, _ := a.Read(ctx, "k")
		if string(got) != "a" {
			t.Errorf("alpha/k = %s", got)
		}

		names, err := be.Buckets(ctx)
		if err != nil {
			t.Fatalf("buckets: %v", err)
		}
		if !slices.Contains(names, "alpha") || !slices.Contains(names, "beta") {
			t.Errorf("got %v", names)
		}
	})

	t.Run("DropBucket", func(t *testing.T) {
		be := open(t)
		ctx := context.Background()
		b, _ := be.OpenBucket(ctx, "gone")
		_ = b.Write(ctx, "k", []byte("v"))

		if err := be.DropBucket(ctx, "gone"); err != nil {
			t.Fatalf("drop: %v", err)
		}
		names, _ := be.Buckets(ctx)
		if slices.Contains(names, "gone") {
			t.Errorf("dropped bucket still listed: %v", names)
		}

		b, err := be.OpenBucket(ctx, "gone")
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		if _, err := b.Read(ctx, "k"); !errors.Is(err, inkwell.ErrNotFound) {
			t.Errorf("entry survived drop: %v", err)
		}
	})

	t.Run("DropMissing", func(t *testing.T) {
		be := open(t)
		err := be.DropBucket(context.Background(), "never_created")
		if !errors.Is(err, inkwell.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}
