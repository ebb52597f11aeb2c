package refresh_test

import (
	"context"
	"testing"
	"time"

	"github.com/bosted-app/backend/internal/logging"
	"github.com/bosted-app/backend/internal/refresh"
)

func TestRunPurger(t *testing.T) {
	store, repo, c := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tok, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	c.Advance(refresh.DefaultTTL + 2*time.Hour)

	purged := make(chan int64, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		store.RunPurger(ctx, 5*time.Millisecond, time.Hour, logging.Discard(), func(n int64) { purged <- n })
	}()

	select {
	case n := <-purged:
		if n != 1 {
			t.Fatalf("expected one purged token, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("purger did not run")
	}
	cancel()
	<-done

	if _, err := repo.GetRefreshToken(context.Background(), refresh.HashToken(tok.Token)); err == nil {
		t.Fatalf("expired token should have been deleted")
	}
}

func TestRunPurgerDisabled(t *testing.T) {
	store, _, _ := newStore(t)
	finished := make(chan struct{})
	go func() {
		store.RunPurger(context.Background(), 0, time.Hour, nil, nil)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("zero interval should return immediately")
	}
}
