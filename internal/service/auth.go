package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bosted-app/backend/internal/audit"
	"github.com/bosted-app/backend/internal/logging"
	"github.com/bosted-app/backend/internal/metrics"
	"github.com/bosted-app/backend/internal/model"
	"github.com/bosted-app/backend/internal/refresh"
	"github.com/bosted-app/backend/internal/token"
)

const defaultAccessTTL = 30 * time.Minute

// CredentialStore is the user-management collaborator. Lookups report
// model.ErrNotFound for unknown users and model.ErrStoreTimeout when the
// backing store did not answer in time.
type CredentialStore interface {
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	EnsureRole(ctx context.Context, role model.Role) error
	AssignRole(ctx context.Context, userID string, role model.Role) error
}

type RefreshTokens interface {
	Create(ctx context.Context, userID string) (*model.RefreshToken, error)
	Redeem(ctx context.Context, value string) (string, error)
	Revoke(ctx context.Context, value string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	TTL() time.Duration
}

type TokenSigner interface {
	Issue(claims token.Claims, ttl time.Duration) (string, time.Time, error)
	Verify(raw string) (token.Claims, error)
}

type AuthService struct {
	creds          CredentialStore
	tokens         RefreshTokens
	signer         TokenSigner
	accessTTL      time.Duration
	revokeOnReplay bool
	bcryptCost     int
	now            func() time.Time
	log            *slog.Logger
	metrics        *metrics.Metrics
	audit          audit.Recorder

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*AuthService)

func WithAccessTTL(ttl time.Duration) Option {
	return func(s *AuthService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRevokeOnReplay controls whether presenting a spent refresh token
// revokes every session of its owner.
func WithRevokeOnReplay(enabled bool) Option {
	return func(s *AuthService) {
		s.revokeOnReplay = enabled
	}
}

func WithBcryptCost(cost int) Option {
	return func(s *AuthService) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *AuthService) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthService) {
		s.metrics = m
	}
}

func WithAuditor(r audit.Recorder) Option {
	return func(s *AuthService) {
		if r != nil {
			s.audit = r
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Event) {}

func NewAuthService(creds CredentialStore, tokens RefreshTokens, signer TokenSigner, opts ...Option) (*AuthService, error) {
	if creds == nil || tokens == nil || signer == nil {
		return nil, fmt.Errorf("%w: credential store, refresh store and signer are required", ErrMisconfigured)
	}
	s := &AuthService{
		creds:          creds,
		tokens:         tokens,
		signer:         signer,
		accessTTL:      defaultAccessTTL,
		revokeOnReplay: true,
		bcryptCost:     bcrypt.DefaultCost,
		now:            time.Now,
		log:            logging.Discard(),
		audit:          nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "auth"))
	return s, nil
}

func (s *AuthService) AccessTTL() time.Duration {
	return s.accessTTL
}

func (s *AuthService) RefreshTTL() time.Duration {
	return s.tokens.TTL()
}

// Login authenticates by password. Unknown email and wrong password yield
// the same ErrInvalidCredentials and take comparable time.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		errs := &ValidationError{}
		if email == "" {
			errs.add("email", "is required")
		}
		if password == "" {
			errs.add("password", "is required")
		}
		return nil, errs
	}

	user, err := s.creds.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.burnPasswordCheck(password)
			s.denyLogin(ctx, email, "unknown email")
			return nil, ErrInvalidCredentials
		}
		s.metrics.Login(metrics.OutcomeError)
		return nil, s.storeErr("find user", err)
	}

	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil {
		s.log.ErrorContext(ctx, "stored password hash unusable", slog.String("user_id", user.ID), slog.Any("error", err))
		s.denyLogin(ctx, email, "unusable hash")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		s.denyLogin(ctx, email, "wrong password")
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return nil, err
	}

	s.metrics.Login(metrics.OutcomeSuccess)
	s.record(ctx, audit.Event{Type: audit.LoginSucceeded, UserID: user.ID, Email: user.Email})
	return &model.LoginResult{Tokens: *pair, User: user.Public()}, nil
}

// Refresh spends refreshToken and returns a rotated pair. Every redeem
// failure is reported as ErrUnauthorized.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		s.metrics.Refresh(metrics.OutcomeDenied)
		return nil, ErrUnauthorized
	}

	userID, err := s.tokens.Redeem(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrRevoked):
			// Logged out or revoked sessions are dead, not replayed.
			s.metrics.Refresh(metrics.OutcomeDenied)
			return nil, ErrUnauthorized
		case errors.Is(err, refresh.ErrAlreadyUsed):
			s.handleReplay(ctx, userID)
			s.metrics.Refresh(metrics.OutcomeDenied)
			return nil, ErrUnauthorized
		case errors.Is(err, refresh.ErrNotFound), errors.Is(err, refresh.ErrExpired):
			s.metrics.Refresh(metrics.OutcomeDenied)
			return nil, ErrUnauthorized
		default:
			s.metrics.Refresh(metrics.OutcomeError)
			return nil, s.storeErr("redeem refresh token", err)
		}
	}

	user, err := s.creds.FindUserByID(ctx, userID)
	if err != nil {
		s.metrics.Refresh(metrics.OutcomeError)
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.storeErr("find user", err)
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		s.metrics.Refresh(metrics.OutcomeError)
		return nil, err
	}
	s.metrics.Refresh(metrics.OutcomeSuccess)
	s.record(ctx, audit.Event{Type: audit.TokenRefreshed, UserID: user.ID})
	return pair, nil
}

func (s *AuthService) handleReplay(ctx context.Context, userID string) {
	s.metrics.Replay()
	event := audit.Event{Type: audit.RefreshReplayed, UserID: userID}
	if s.revokeOnReplay && userID != "" {
		n, err := s.tokens.RevokeAllForUser(ctx, userID)
		if err != nil {
			s.log.ErrorContext(ctx, "revoke sessions after replay failed", slog.String("user_id", userID), slog.Any("error", err))
			event.Detail = "revocation failed"
		} else {
			s.metrics.Revoked(n)
			event.Count = n
		}
	}
	s.record(ctx, event)
}

// Register creates the account without logging it in.
func (s *AuthService) Register(ctx context.Context, in model.RegisterInput) (*model.PublicUser, error) {
	role, err := validateRegistration(in)
	if err != nil {
		s.metrics.Register(metrics.OutcomeDenied)
		return nil, err
	}

	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		s.metrics.Register(metrics.OutcomeError)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if err := s.creds.EnsureRole(ctx, role); err != nil {
		s.metrics.Register(metrics.OutcomeError)
		return nil, s.creationErr(err)
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(in.Email),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hash,
		Role:         role,
		TenantID:     in.TenantID,
	}
	if err := s.creds.CreateUser(ctx, user); err != nil {
		s.metrics.Register(metrics.OutcomeDenied)
		return nil, s.creationErr(err)
	}

	s.metrics.Register(metrics.OutcomeSuccess)
	s.record(ctx, audit.Event{Type: audit.UserRegistered, UserID: user.ID, Email: user.Email, Detail: role.String()})
	public := user.Public()
	return &public, nil
}

// ChangePassword replaces the stored hash and then revokes every refresh
// token of the user.
func (s *AuthService) ChangePassword(ctx context.Context, email, currentPassword, newPassword string) error {
	email = normalizeEmail(email)
	errs := &ValidationError{}
	checkEmail(errs, "email", email)
	if currentPassword == "" {
		errs.add("currentPassword", "is required")
	}
	checkPassword(errs, "newPassword", newPassword)
	if currentPassword != "" && currentPassword == newPassword {
		errs.add("newPassword", "must differ from the current password")
	}
	if err := errs.orNil(); err != nil {
		return err
	}

	user, err := s.creds.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return ErrNotFound
		}
		return s.storeErr("find user", err)
	}

	ok, err := VerifyPassword(user.PasswordHash, currentPassword)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.creds.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return ErrNotFound
		}
		return s.storeErr("update password", err)
	}

	n, err := s.tokens.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		// The new password is already in place; report the failure so the
		// caller can retry the revocation.
		return s.storeErr("revoke sessions", err)
	}
	s.metrics.Revoked(n)
	s.record(ctx, audit.Event{Type: audit.PasswordChanged, UserID: user.ID, Email: user.Email, Count: n})
	return nil
}

// Logout revokes the presented refresh token. Unknown or missing tokens are
// not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	revoked, err := s.tokens.Revoke(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, model.ErrStoreTimeout) {
			return s.storeErr("revoke refresh token", err)
		}
		s.log.WarnContext(ctx, "logout revocation failed", slog.Any("error", err))
		return nil
	}
	if !revoked {
		return nil
	}
	s.metrics.Revoked(1)
	s.record(ctx, audit.Event{Type: audit.LoggedOut})
	return nil
}

// LogoutAll revokes every session of userID.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUnauthorized
	}
	n, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, s.storeErr("revoke sessions", err)
	}
	s.metrics.Revoked(n)
	s.record(ctx, audit.Event{Type: audit.SessionsRevoked, UserID: userID, ActorID: userID, Count: n})
	return n, nil
}

// RevokeUserSessions lets an Admin cut any user's sessions and a Staff
// member cut those of users in their own facility.
func (s *AuthService) RevokeUserSessions(ctx context.Context, actor model.AuthUser, userID string) (int64, error) {
	if actor.Role != model.RoleAdmin && actor.Role != model.RoleStaff {
		return 0, ErrForbidden
	}

	target, err := s.creds.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, s.storeErr("find user", err)
	}
	if actor.Role == model.RoleStaff {
		if target.Role == model.RoleAdmin || target.TenantID != actor.TenantID {
			return 0, ErrForbidden
		}
	}

	n, err := s.tokens.RevokeAllForUser(ctx, target.ID)
	if err != nil {
		return 0, s.storeErr("revoke sessions", err)
	}
	s.metrics.Revoked(n)
	s.record(ctx, audit.Event{Type: audit.SessionsRevoked, UserID: target.ID, ActorID: actor.ID, Count: n})
	return n, nil
}

func (s *AuthService) ParseAccessToken(raw string) (*model.AuthUser, error) {
	claims, err := s.signer.Verify(raw)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return &model.AuthUser{
		ID:       claims.UserID,
		Email:    claims.Email,
		Role:     claims.Role,
		TenantID: claims.TenantID,
	}, nil
}

// EnsureAdmin creates the bootstrap administrator, or promotes the existing
// account with that email to Admin.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: ADMIN_EMAIL/ADMIN_PASSWORD are required", ErrMisconfigured)
	}

	if err := s.creds.EnsureRole(ctx, model.RoleAdmin); err != nil {
		return s.storeErr("ensure admin role", err)
	}

	user, err := s.creds.FindUserByEmail(ctx, email)
	if err == nil {
		if user.Role == model.RoleAdmin {
			return nil
		}
		if err := s.creds.AssignRole(ctx, user.ID, model.RoleAdmin); err != nil {
			return s.storeErr("assign admin role", err)
		}
		s.record(ctx, audit.Event{Type: audit.AdminBootstrapped, UserID: user.ID, Email: email, Detail: "promoted"})
		return nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return s.storeErr("find admin", err)
	}

	_, err = s.Register(ctx, model.RegisterInput{
		FirstName: "Admin",
		LastName:  "Admin",
		Email:     email,
		Password:  password,
		Role:      model.RoleAdmin.String(),
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	s.record(ctx, audit.Event{Type: audit.AdminBootstrapped, Email: email, Detail: "created"})
	return nil
}

func (s *AuthService) issuePair(ctx context.Context, user *model.User) (*model.TokenPair, error) {
	access, expiresAt, err := s.signer.Issue(token.Claims{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		TenantID: user.TenantID,
	}, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	rt, err := s.tokens.Create(ctx, user.ID)
	if err != nil {
		return nil, s.storeErr("create refresh token", err)
	}

	return &model.TokenPair{
		AccessToken:     access,
		AccessExpiresAt: expiresAt,
		RefreshToken:    rt.Token,
		RefreshExpires:  rt.ExpiresAt,
	}, nil
}

func (s *AuthService) denyLogin(ctx context.Context, email, reason string) {
	s.metrics.Login(metrics.OutcomeDenied)
	s.record(ctx, audit.Event{Type: audit.LoginFailed, Email: email, Detail: reason})
}

// burnPasswordCheck spends one bcrypt comparison so an unknown email costs
// about as much as a wrong password.
func (s *AuthService) burnPasswordCheck(password string) {
	s.dummyOnce.Do(func() {
		hash, err := HashPassword(uuid.NewString(), s.bcryptCost)
		if err == nil {
			s.dummyHash = hash
		}
	})
	if s.dummyHash != "" {
		_, _ = VerifyPassword(s.dummyHash, password)
	}
}

func (s *AuthService) record(ctx context.Context, event audit.Event) {
	if event.At.IsZero() {
		event.At = s.now().UTC()
	}
	s.audit.Record(ctx, event)
}

func (s *AuthService) storeErr(op string, err error) error {
	if errors.Is(err, model.ErrStoreTimeout) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *AuthService) creationErr(err error) error {
	if errors.Is(err, model.ErrStoreTimeout) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrCreationFailed, err)
}
