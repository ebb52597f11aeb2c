package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input   string
		want    Role
		wantErr bool
	}{
		{input: "Admin", want: RoleAdmin},
		{input: "staff", want: RoleStaff},
		{input: "  USER ", want: RoleUser},
		{input: "Admins", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownRole) {
					t.Fatalf("ParseRole(%q) err = %v, want ErrUnknownRole", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRole(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("ParseRole(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRoleTextRoundTrip(t *testing.T) {
	for _, role := range Roles() {
		text, err := role.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", role, err)
		}
		var parsed Role
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", text, err)
		}
		if parsed != role {
			t.Fatalf("round trip %v -> %s -> %v", role, text, parsed)
		}
	}

	if _, err := Role(0).MarshalText(); err == nil {
		t.Fatalf("expected zero role to be rejected")
	}
}

func TestRequiresTenant(t *testing.T) {
	if RoleAdmin.RequiresTenant() {
		t.Fatalf("admin should not require a tenant")
	}
	if !RoleStaff.RequiresTenant() || !RoleUser.RequiresTenant() {
		t.Fatalf("staff and user should require a tenant")
	}
}

func TestRefreshTokenRedeemable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := RefreshToken{ExpiresAt: now.Add(time.Hour)}
	if !tok.Redeemable(now) {
		t.Fatalf("fresh token should be redeemable")
	}
	if !tok.Redeemable(tok.ExpiresAt) {
		t.Fatalf("token should be redeemable at its expiry instant")
	}
	if tok.Redeemable(tok.ExpiresAt.Add(time.Nanosecond)) {
		t.Fatalf("token past expiry should not be redeemable")
	}
	if tok.Redeemable(now.Add(2 * time.Hour)) {
		t.Fatalf("expired token should not be redeemable")
	}
	tok.IsUsed = true
	if tok.Redeemable(now) {
		t.Fatalf("used token should not be redeemable")
	}
	tok.IsUsed, tok.IsRevoked = false, true
	if tok.Redeemable(now) {
		t.Fatalf("revoked token should not be redeemable")
	}
}

func TestPublicOmitsHash(t *testing.T) {
	u := &User{ID: "u1", Email: "a@example.com", PasswordHash: "secret", Role: RoleStaff, TenantID: 4}
	pub := u.Public()
	if pub.Role != "Staff" || pub.BostedID != 4 || pub.ID != "u1" {
		t.Fatalf("unexpected projection: %+v", pub)
	}
}
