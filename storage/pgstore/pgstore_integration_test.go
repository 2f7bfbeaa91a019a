//go:build integration

package pgstore_test

import (
	"context"
	"testing"

	"github.com/ripkitten-co/inkwell/internal/pg"
	"github.com/ripkitten-co/inkwell/internal/testutil"
	"github.com/ripkitten-co/inkwell/storage"
	"github.com/ripkitten-co/inkwell/storage/pgstore"
	"github.com/ripkitten-co/inkwell/storage/storagetest"
)

func TestBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		connStr := testutil.SetupPostgres(t)
		be, err := pgstore.Open(context.Background(), connStr)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = be.Close() })
		return be
	})
}

func TestBackend_SharedPoolSurvivesClose(t *testing.T) {
	connStr := testutil.SetupPostgres(t)
	ctx := context.Background()
	pool, err := pg.NewPool(ctx, connStr)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	be := pgstore.New(pool)
	if _, err := be.OpenBucket(ctx, "inventory"); err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	_ = be.Close()

	if _, err := pool.Exec(ctx, "SELECT 1"); err != nil {
		t.Fatalf("shared pool closed by backend: %v", err)
	}
}
