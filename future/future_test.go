package future

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFuture_ResolveOnce(t *testing.T) {
	f := New[int]()
	if !f.Resolve(1, nil) {
		t.Fatal("first resolve should win")
	}
	if f.Resolve(2, errors.New("late")) {
		t.Fatal("second resolve should be ignored")
	}

	v, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if v != 1 {
		t.Errorf("got %d, want 1", v)
	}
}

func TestFuture_Go(t *testing.T) {
	f := Go(func() (string, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})

	v, err := f.Wait(context.Background())
	if err != nil || v != "ok" {
		t.Errorf("got (%q, %v), want (ok, nil)", v, err)
	}
}

func TestFuture_Failed(t *testing.T) {
	boom := errors.New("boom")
	_, err := Failed[int](boom).Wait(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
}

func TestFuture_WaitCancelled(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestThen(t *testing.T) {
	doubled := Then(Resolved(21), func(v int) (int, error) { return v * 2, nil })
	v, err := doubled.Wait(context.Background())
	if err != nil || v != 42 {
		t.Errorf("got (%d, %v), want (42, nil)", v, err)
	}

	boom := errors.New("boom")
	called := false
	failed := Then(Failed[int](boom), func(v int) (int, error) {
		called = true
		return v, nil
	})
	if _, err := failed.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
	if called {
		t.Error("fn should not run on a failed future")
	}
}
