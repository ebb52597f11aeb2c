package refresh_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bosted-app/backend/internal/db/memory"
	"github.com/bosted-app/backend/internal/model"
	"github.com/bosted-app/backend/internal/refresh"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T) (*refresh.Store, *memory.Store, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	repo := memory.New()
	return refresh.NewStore(repo, refresh.WithClock(c.Now)), repo, c
}

func TestCreate(t *testing.T) {
	store, repo, c := newStore(t)
	tok, err := store.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(tok.Token) < 86 {
		t.Fatalf("token too short for 64 random bytes: %d chars", len(tok.Token))
	}
	if !tok.ExpiresAt.Equal(c.Now().Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry: %v", tok.ExpiresAt)
	}
	if tok.IsUsed || tok.IsRevoked {
		t.Fatalf("new token must start unused and unrevoked")
	}

	stored, err := repo.GetRefreshToken(context.Background(), refresh.HashToken(tok.Token))
	if err != nil {
		t.Fatalf("GetRefreshToken: %v", err)
	}
	if stored.Token != "" {
		t.Fatalf("raw token value must not be persisted")
	}
	if stored.UserID != "user-1" {
		t.Fatalf("unexpected owner: %s", stored.UserID)
	}

	if _, err := store.Create(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty user id")
	}
}

func TestCreateUsesDistinctValues(t *testing.T) {
	store, _, _ := newStore(t)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		tok, err := store.Create(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, dup := seen[tok.Token]; dup {
			t.Fatalf("duplicate token value generated")
		}
		seen[tok.Token] = struct{}{}
	}
}

func TestCreateRandomFailure(t *testing.T) {
	store := refresh.NewStore(memory.New(), refresh.WithRandom(bytes.NewReader([]byte("short"))))
	if _, err := store.Create(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected error when randomness is exhausted")
	}
}

func TestRedeemTwice(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()
	tok, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	userID, err := store.Redeem(ctx, tok.Token)
	if err != nil {
		t.Fatalf("first Redeem: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected user id: %s", userID)
	}

	owner, err := store.Redeem(ctx, tok.Token)
	if !errors.Is(err, refresh.ErrAlreadyUsed) {
		t.Fatalf("second Redeem err = %v, want ErrAlreadyUsed", err)
	}
	if owner != "user-1" {
		t.Fatalf("replay should report the owner, got %q", owner)
	}
}

func TestRedeemUnknown(t *testing.T) {
	store, _, _ := newStore(t)
	for _, value := range []string{"", "does-not-exist"} {
		if _, err := store.Redeem(context.Background(), value); !errors.Is(err, refresh.ErrNotFound) {
			t.Fatalf("Redeem(%q) err = %v, want ErrNotFound", value, err)
		}
	}
}

func TestRedeemExpired(t *testing.T) {
	store, _, c := newStore(t)
	tok, err := store.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	c.Advance(7*24*time.Hour + time.Second)

	if _, err := store.Redeem(context.Background(), tok.Token); !errors.Is(err, refresh.ErrExpired) {
		t.Fatalf("Redeem err = %v, want ErrExpired", err)
	}
}

func TestRedeemAtExpiryInstant(t *testing.T) {
	store, _, c := newStore(t)
	ctx := context.Background()
	tok, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	c.Advance(7 * 24 * time.Hour)
	if !c.Now().Equal(tok.ExpiresAt) {
		t.Fatalf("clock should sit on the expiry instant")
	}

	if _, err := store.Redeem(ctx, tok.Token); err != nil {
		t.Fatalf("token should still redeem at its expiry instant: %v", err)
	}
}

func TestRedeemRevoked(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()
	tok, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	revoked, err := store.Revoke(ctx, tok.Token)
	if err != nil || !revoked {
		t.Fatalf("Revoke = %v, %v; want true, nil", revoked, err)
	}
	userID, err := store.Redeem(ctx, tok.Token)
	if !errors.Is(err, refresh.ErrRevoked) {
		t.Fatalf("Redeem err = %v, want ErrRevoked", err)
	}
	if !errors.Is(err, refresh.ErrAlreadyUsed) {
		t.Fatalf("ErrRevoked should still match ErrAlreadyUsed")
	}
	if userID != "user-1" {
		t.Fatalf("unexpected owner %q", userID)
	}
}

func TestRedeemSpentIsNotRevoked(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()
	tok, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Redeem(ctx, tok.Token); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	_, err = store.Redeem(ctx, tok.Token)
	if !errors.Is(err, refresh.ErrAlreadyUsed) || errors.Is(err, refresh.ErrRevoked) {
		t.Fatalf("Redeem err = %v, want plain ErrAlreadyUsed", err)
	}
}

func TestRevokeReportsChange(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()
	tok, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "live token", value: tok.Token, want: true},
		{name: "already revoked", value: tok.Token, want: false},
		{name: "unknown", value: "does-not-exist", want: false},
		{name: "empty", value: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Revoke(ctx, tt.value)
			if err != nil {
				t.Fatalf("Revoke: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Revoke = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedeemConcurrent(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()
	tok, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 100
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		denied    atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Redeem(ctx, tok.Token)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, refresh.ErrAlreadyUsed), errors.Is(err, refresh.ErrNotFound):
				denied.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("expected exactly one success, got %d", successes.Load())
	}
	if denied.Load() != workers-1 {
		t.Fatalf("expected %d denials, got %d", workers-1, denied.Load())
	}
}

func TestRevokeAllForUserIdempotent(t *testing.T) {
	store, repo, _ := newStore(t)
	ctx := context.Background()

	var mine []*model.RefreshToken
	for i := 0; i < 3; i++ {
		tok, err := store.Create(ctx, "user-1")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		mine = append(mine, tok)
	}
	other, err := store.Create(ctx, "user-2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := store.RevokeAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
	n, err = store.RevokeAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("second RevokeAllForUser: %v", err)
	}
	if n != 0 {
		t.Fatalf("second call should change nothing, got %d", n)
	}

	for _, tok := range mine {
		stored, err := repo.GetRefreshToken(ctx, tok.TokenHash)
		if err != nil {
			t.Fatalf("GetRefreshToken: %v", err)
		}
		if !stored.IsRevoked {
			t.Fatalf("token should be revoked")
		}
		if _, err := store.Redeem(ctx, tok.Token); !errors.Is(err, refresh.ErrAlreadyUsed) {
			t.Fatalf("revoked token redeem err = %v", err)
		}
	}

	if _, err := store.Redeem(ctx, other.Token); err != nil {
		t.Fatalf("other user's token should be unaffected: %v", err)
	}
}

func TestPurge(t *testing.T) {
	store, repo, c := newStore(t)
	ctx := context.Background()
	old, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	c.Advance(10 * 24 * time.Hour)
	fresh, err := store.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := store.Purge(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one purged token, got %d", n)
	}
	if _, err := repo.GetRefreshToken(ctx, old.TokenHash); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("old token should be gone, err = %v", err)
	}
	if _, err := repo.GetRefreshToken(ctx, fresh.TokenHash); err != nil {
		t.Fatalf("fresh token should remain: %v", err)
	}
}

type slowRepo struct {
	refresh.Repository
}

func (slowRepo) ConsumeRefreshToken(ctx context.Context, _ string, _ time.Time) (string, bool, error) {
	<-ctx.Done()
	return "", false, ctx.Err()
}

func TestRedeemTimeout(t *testing.T) {
	store := refresh.NewStore(slowRepo{Repository: memory.New()}, refresh.WithTimeout(10*time.Millisecond))
	_, err := store.Redeem(context.Background(), "anything")
	if !errors.Is(err, model.ErrStoreTimeout) {
		t.Fatalf("expected ErrStoreTimeout, got %v", err)
	}
	if errors.Is(err, refresh.ErrAlreadyUsed) || errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("timeout must be distinct from a business denial")
	}
}
