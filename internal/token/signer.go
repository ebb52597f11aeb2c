// Package token issues and verifies HS256 access tokens carrying the user,
// role and facility claims downstream services authorize on.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bosted-app/backend/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// MinKeyBytes is the smallest accepted signing key, matching the AES-128 key floor.
	MinKeyBytes = 16

	base64KeyPrefix = "base64:"
)

var (
	// ErrMisconfigured is returned when the signer cannot be built from its config.
	ErrMisconfigured = errors.New("token: signer misconfigured")
	// ErrInvalidToken is the only failure Verify reports.
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrMissingClaims is returned by Issue when a required claim is empty.
	ErrMissingClaims = errors.New("token: required claims missing")
)

type Config struct {
	Key      string
	Issuer   string
	Audience string
}

// Claims is the typed claim set embedded in an access token.
type Claims struct {
	UserID   string
	Email    string
	Role     model.Role
	TenantID int64
}

type wireClaims struct {
	UniqueName string `json:"unique_name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	BostedID   *int64 `json:"bostedId"`
	jwt.RegisteredClaims
}

type Signer struct {
	key      []byte
	issuer   string
	audience string
	now      func() time.Time
	parser   *jwt.Parser
}

type Option func(*Signer)

// WithClock overrides the time source used for iat/exp and validation.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSigner(cfg Config, opts ...Option) (*Signer, error) {
	key, err := DecodeKey(cfg.Key)
	if err != nil {
		return nil, err
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	audience := strings.TrimSpace(cfg.Audience)
	if issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrMisconfigured)
	}
	if audience == "" {
		return nil, fmt.Errorf("%w: audience is required", ErrMisconfigured)
	}

	s := &Signer{
		key:      key,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	return s, nil
}

// DecodeKey turns the configured key string into signing bytes. Keys prefixed
// with "base64:" are decoded (padding optional); other keys are used verbatim.
func DecodeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: signing key is required", ErrMisconfigured)
	}

	key := []byte(raw)
	if encoded, ok := strings.CutPrefix(raw, base64KeyPrefix); ok {
		decoded, err := decodeSegment(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: signing key is not valid base64", ErrMisconfigured)
		}
		key = decoded
	}
	if len(key) < MinKeyBytes {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes, got %d", ErrMisconfigured, MinKeyBytes, len(key))
	}
	return key, nil
}

// Issue signs claims with an expiry of now+ttl.
func (s *Signer) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	if err := validateClaims(claims); err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token: ttl must be greater than zero")
	}

	now := s.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	tenantID := claims.TenantID
	wire := wireClaims{
		UniqueName: claims.Email,
		Email:      claims.Email,
		Role:       claims.Role.String(),
		BostedID:   &tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   claims.UserID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, audience and expiry and decodes the typed
// claims. Any failure, including malformed input, yields ErrInvalidToken.
func (s *Signer) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalidToken
	}

	wire := &wireClaims{}
	parsed, err := s.parser.ParseWithClaims(raw, wire, func(t *jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims, err := wire.typed()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (w *wireClaims) typed() (Claims, error) {
	if strings.TrimSpace(w.Subject) == "" {
		return Claims{}, errors.New("sub missing")
	}
	if w.BostedID == nil {
		return Claims{}, errors.New("bostedId missing")
	}
	role, err := model.ParseRole(w.Role)
	if err != nil {
		return Claims{}, err
	}
	claims := Claims{
		UserID:   w.Subject,
		Email:    w.UniqueName,
		Role:     role,
		TenantID: *w.BostedID,
	}
	if err := validateClaims(claims); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func validateClaims(c Claims) error {
	switch {
	case strings.TrimSpace(c.UserID) == "":
		return fmt.Errorf("%w: subject", ErrMissingClaims)
	case strings.TrimSpace(c.Email) == "":
		return fmt.Errorf("%w: unique_name", ErrMissingClaims)
	case !c.Role.Valid():
		return fmt.Errorf("%w: role", ErrMissingClaims)
	case c.TenantID < 0:
		return fmt.Errorf("%w: bostedId", ErrMissingClaims)
	case c.Role.RequiresTenant() && c.TenantID == 0:
		return fmt.Errorf("%w: bostedId", ErrMissingClaims)
	}
	return nil
}

func decodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(strings.TrimSpace(seg), "=")
	if b, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(seg)
}
