package config

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "0123456789abcdef")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Auth.AccessTTL != 30*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.Auth.AccessTTL)
	}
	if cfg.Auth.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.Auth.RefreshTTL)
	}
	if !cfg.Auth.RevokeOnReplay {
		t.Fatalf("replay revocation should default on")
	}
	if cfg.Store.Driver != "postgres" {
		t.Fatalf("unexpected driver: %s", cfg.Store.Driver)
	}
	if cfg.Postgres.Timeout() != 5*time.Second {
		t.Fatalf("unexpected store timeout: %v", cfg.Postgres.Timeout())
	}
	if cfg.Notify.Enabled() || cfg.Notify.QueueSize != 64 {
		t.Fatalf("slack alerts should default off: %+v", cfg.Notify)
	}
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "JWT_ISSUER=from-file\nJWT_ACCESS_TTL=5m\nCORS_ALLOWED_ORIGINS=http://a.test,http://b.test\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("JWT_ISSUER", "")
	os.Unsetenv("JWT_ISSUER")
	t.Setenv("JWT_ACCESS_TTL", "")
	os.Unsetenv("JWT_ACCESS_TTL")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	os.Unsetenv("CORS_ALLOWED_ORIGINS")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Issuer != "from-file" {
		t.Fatalf("unexpected issuer: %s", cfg.Auth.Issuer)
	}
	if cfg.Auth.AccessTTL != 5*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.Auth.AccessTTL)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Store:  StoreConfig{Driver: "memory"},
			Auth:   AuthConfig{AccessTTL: time.Minute, RefreshTTL: time.Hour},
			Cookie: CookieConfig{SameSite: "lax", Secure: true},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "bad driver", mutate: func(c *Config) { c.Store.Driver = "mysql" }},
		{name: "zero access ttl", mutate: func(c *Config) { c.Auth.AccessTTL = 0 }},
		{name: "zero refresh ttl", mutate: func(c *Config) { c.Auth.RefreshTTL = 0 }},
		{name: "admin email only", mutate: func(c *Config) { c.Auth.AdminEmail = "a@example.com" }},
		{name: "bad samesite", mutate: func(c *Config) { c.Cookie.SameSite = "sometimes" }},
		{name: "samesite none insecure", mutate: func(c *Config) { c.Cookie.SameSite = "none"; c.Cookie.Secure = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseSameSite(t *testing.T) {
	cases := map[string]http.SameSite{
		"":       http.SameSiteLaxMode,
		"Lax":    http.SameSiteLaxMode,
		"strict": http.SameSiteStrictMode,
		" NONE ": http.SameSiteNoneMode,
	}
	for input, want := range cases {
		got, err := ParseSameSite(input)
		if err != nil {
			t.Fatalf("ParseSameSite(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseSameSite(%q) = %v, want %v", input, got, want)
		}
	}
}
