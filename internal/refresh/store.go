// Package refresh manages single-use rotating refresh tokens.
//
// Tokens are opaque 64-byte random values handed to the client once; storage
// keys on their SHA-256 digest. Redeeming is a single conditional update in
// the repository so two concurrent redemptions of the same value can never
// both succeed.
package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bosted-app/backend/internal/model"
)

const (
	DefaultTTL = 7 * 24 * time.Hour
	tokenBytes = 64
)

var (
	ErrNotFound    = errors.New("refresh: token not found")
	ErrExpired     = errors.New("refresh: token expired")
	ErrAlreadyUsed = errors.New("refresh: token already used")
	// ErrRevoked still matches ErrAlreadyUsed; callers that care about
	// replays test for it first.
	ErrRevoked = fmt.Errorf("refresh: token revoked: %w", ErrAlreadyUsed)
)

// Repository is the persistence contract. ConsumeRefreshToken must be atomic:
// it flips is_used only for a live token and reports whether it did.
type Repository interface {
	InsertRefreshToken(ctx context.Context, token *model.RefreshToken) error
	ConsumeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (userID string, ok bool, err error)
	GetRefreshToken(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error)
	RevokeUserRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

type Store struct {
	repo    Repository
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	random  io.Reader
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithTimeout bounds every repository call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRandom(r io.Reader) Option {
	return func(s *Store) {
		if r != nil {
			s.random = r
		}
	}
}

func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:    repo,
		ttl:     DefaultTTL,
		timeout: 5 * time.Second,
		now:     time.Now,
		random:  rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create mints and persists a new token for userID. The returned record is
// the only place the raw token value appears.
func (s *Store) Create(ctx context.Context, userID string) (*model.RefreshToken, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("refresh: user id is required")
	}

	raw := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, raw); err != nil {
		return nil, fmt.Errorf("refresh: read random: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)
	now := s.now().UTC()
	record := &model.RefreshToken{
		Token:     value,
		TokenHash: HashToken(value),
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.repo.InsertRefreshToken(ctx, record); err != nil {
		return nil, s.wrap("insert", err)
	}
	return record, nil
}

// Redeem spends the token and returns its owner. A token is expired only once
// now is past its expiry. On ErrAlreadyUsed the owner id is returned as well
// so the caller can respond to the replay; revoked tokens report ErrRevoked.
func (s *Store) Redeem(ctx context.Context, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrNotFound
	}
	hash := HashToken(value)
	now := s.now().UTC()

	ctx, cancel := s.bound(ctx)
	defer cancel()

	userID, ok, err := s.repo.ConsumeRefreshToken(ctx, hash, now)
	if err != nil {
		return "", s.wrap("consume", err)
	}
	if ok {
		return userID, nil
	}

	// The conditional update matched nothing; read the row only to say why.
	record, err := s.repo.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", s.wrap("lookup", err)
	}
	if now.After(record.ExpiresAt) {
		return "", ErrExpired
	}
	if record.IsRevoked {
		return record.UserID, ErrRevoked
	}
	return record.UserID, ErrAlreadyUsed
}

// Revoke invalidates a single token value and reports whether it changed
// state. Unknown and already revoked values report false.
func (s *Store) Revoke(ctx context.Context, value string) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	revoked, err := s.repo.RevokeRefreshToken(ctx, HashToken(value))
	if err != nil {
		return false, s.wrap("revoke", err)
	}
	return revoked, nil
}

// RevokeAllForUser marks every unexpired token of userID revoked and reports
// how many rows changed state.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.repo.RevokeUserRefreshTokens(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, s.wrap("revoke user", err)
	}
	return n, nil
}

// Purge deletes tokens that expired more than retention ago.
func (s *Store) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		retention = 0
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.repo.DeleteExpiredRefreshTokens(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, s.wrap("purge", err)
	}
	return n, nil
}

// HashToken is the storage key for a raw token value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) wrap(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrStoreTimeout) {
		return fmt.Errorf("refresh %s: %w: %w", op, model.ErrStoreTimeout, err)
	}
	return fmt.Errorf("refresh %s: %w", op, err)
}
