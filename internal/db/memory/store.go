// Package memory is an in-process implementation of the credential and
// refresh-token repositories. It backs tests and STORE_DRIVER=memory runs;
// state is lost on restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bosted-app/backend/internal/model"
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	byEmail  map[string]string
	roles    map[model.Role]struct{}
	tokens   map[string]*model.RefreshToken
	userToks map[string]map[string]struct{}
	now      func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[string]*model.User),
		byEmail:  make(map[string]string),
		roles:    make(map[model.Role]struct{}),
		tokens:   make(map[string]*model.RefreshToken),
		userToks: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// ctxErr reports an expired deadline as model.ErrStoreTimeout, the same way
// the Postgres store classifies it.
func ctxErr(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", model.ErrStoreTimeout, err)
	}
	return err
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return nil, model.ErrNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := emailKey(u.Email)
	if _, exists := s.byEmail[key]; exists {
		return model.ErrAlreadyExists
	}
	if _, exists := s.users[u.ID]; exists {
		return model.ErrAlreadyExists
	}
	if _, known := s.roles[u.Role]; !known {
		return model.ErrUnknownRole
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[key] = u.ID
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) EnsureRole(ctx context.Context, role model.Role) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if !role.Valid() {
		return model.ErrUnknownRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role] = struct{}{}
	return nil
}

func (s *Store) AssignRole(ctx context.Context, userID string, role model.Role) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.roles[role]; !known {
		return model.ErrUnknownRole
	}
	u, ok := s.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = s.now().UTC()
	return nil
}

// DeleteUser removes a user and, like the Postgres cascade, its tokens.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	delete(s.byEmail, emailKey(u.Email))
	delete(s.users, userID)
	for hash := range s.userToks[userID] {
		delete(s.tokens, hash)
	}
	delete(s.userToks, userID)
	return nil
}

func (s *Store) InsertRefreshToken(ctx context.Context, tok *model.RefreshToken) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[tok.TokenHash]; exists {
		return model.ErrAlreadyExists
	}
	cp := *tok
	cp.Token = ""
	s.tokens[tok.TokenHash] = &cp
	set, ok := s.userToks[tok.UserID]
	if !ok {
		set = make(map[string]struct{})
		s.userToks[tok.UserID] = set
	}
	set[tok.TokenHash] = struct{}{}
	return nil
}

func (s *Store) ConsumeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (string, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenHash]
	if !ok || !tok.Redeemable(now) {
		return "", false, nil
	}
	tok.IsUsed = true
	return tok.UserID, true, nil
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[tokenHash]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenHash]
	if !ok || tok.IsRevoked {
		return false, nil
	}
	tok.IsRevoked = true
	return true, nil
}

func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash := range s.userToks[userID] {
		tok := s.tokens[hash]
		if tok.IsRevoked || now.After(tok.ExpiresAt) {
			continue
		}
		tok.IsRevoked = true
		n++
	}
	return n, nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, tok := range s.tokens {
		if tok.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			delete(s.userToks[tok.UserID], hash)
			n++
		}
	}
	return n, nil
}

// Ping satisfies the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return ctxErr(ctx)
}
