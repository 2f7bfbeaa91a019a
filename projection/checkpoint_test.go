package projection

import (
	"context"
	"testing"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/binder"
	"github.com/ripkitten-co/inkwell/storage/memstore"
)

func TestBinderCheckpoints(t *testing.T) {
	ctx := context.Background()
	store, err := binder.NewStore(ctx, memstore.New())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	cs, err := NewBinderCheckpoints(ctx, store)
	if err != nil {
		t.Fatalf("checkpoints: %v", err)
	}

	if _, ok, err := cs.Load(ctx, "totals"); err != nil || ok {
		t.Fatalf("initial load: ok=%v err=%v", ok, err)
	}
	if err := cs.Save(ctx, "totals", 17); err != nil {
		t.Fatalf("save: %v", err)
	}
	pos, ok, err := cs.Load(ctx, "totals")
	if err != nil || !ok || pos != 17 {
		t.Fatalf("load: pos=%d ok=%v err=%v", pos, ok, err)
	}

	if err := cs.Clear(ctx, "totals"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := cs.Load(ctx, "totals"); ok {
		t.Error("checkpoint survived clear")
	}
}

func TestBinderCheckpoints_CorruptPosition(t *testing.T) {
	ctx := context.Background()
	store, _ := binder.NewStore(ctx, memstore.New())
	defer store.Close()
	cs, _ := NewBinderCheckpoints(ctx, store)

	b, _ := store.Get(CheckpointBinder)
	b.Put(ctx, "totals", inkwell.Document{"position": "soon"})

	if _, _, err := cs.Load(ctx, "totals"); err == nil {
		t.Fatal("expected error for non-numeric position")
	}
}
