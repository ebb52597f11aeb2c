package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreTimeout  = errors.New("store timeout")
	ErrUnknownRole   = errors.New("unknown role")
)

// Role is the closed set of account roles. The zero value is not a valid role.
type Role int

const (
	RoleAdmin Role = iota + 1
	RoleStaff
	RoleUser
)

var roleNames = map[Role]string{
	RoleAdmin: "Admin",
	RoleStaff: "Staff",
	RoleUser:  "User",
}

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleStaff, RoleUser}
}

// ParseRole maps the persisted/claim form to a Role. Matching ignores case
// and surrounding whitespace.
func ParseRole(value string) (Role, error) {
	value = strings.TrimSpace(value)
	for role, name := range roleNames {
		if strings.EqualFold(name, value) {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, value)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// RequiresTenant reports whether accounts with this role must belong to a facility.
func (r Role) RequiresTenant() bool {
	return r == RoleStaff || r == RoleUser
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// User is the credential record owned by the user-management collaborator.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         Role
	TenantID     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public strips credential material from the record.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role.String(),
		BostedID:  u.TenantID,
	}
}

type PublicUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
	BostedID  int64  `json:"bostedId"`
}

// AuthUser is the identity carried by a verified access token.
type AuthUser struct {
	ID       string
	Email    string
	Role     Role
	TenantID int64
}

// RefreshToken is a persisted single-use refresh credential. Token holds the
// raw bearer value only right after creation; storage keys on TokenHash.
type RefreshToken struct {
	Token     string
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	IsUsed    bool
	IsRevoked bool
	CreatedAt time.Time
}

// Redeemable reports whether the token could still be exchanged at now.
// The expiry instant itself is still redeemable.
func (t *RefreshToken) Redeemable(now time.Time) bool {
	return !t.IsUsed && !t.IsRevoked && !now.After(t.ExpiresAt)
}

type TokenPair struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	RefreshExpires  time.Time
}

type LoginResult struct {
	Tokens TokenPair
	User   PublicUser
}

type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      string
	TenantID  int64
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	FirstName string `json:"firstName" binding:"required,max=100"`
	LastName  string `json:"lastName" binding:"required,max=100"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	Role      string `json:"role" binding:"required"`
	BostedID  int64  `json:"bostedId" binding:"gte=0"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	Email           string `json:"email" binding:"required,email"`
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type LoginResponse struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresIn    int64      `json:"expiresIn"`
	User         PublicUser `json:"user"`
}

type RefreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type RevokeSessionsResponse struct {
	Status  string `json:"status"`
	Revoked int64  `json:"revoked"`
}
