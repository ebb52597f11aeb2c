package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Auth     AuthConfig
	Cookie   CookieConfig
	Log      LogConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxBodyBytes    int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`
	RateLimit       float64       `env:"AUTH_RATE_LIMIT_PER_SECOND" envDefault:"5"`
	RateBurst       int           `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`
}

type StoreConfig struct {
	Driver      string `env:"STORE_DRIVER" envDefault:"postgres"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type PostgresConfig struct {
	DatabaseURL  string        `env:"DATABASE_URL"`
	Host         string        `env:"PGHOST" envDefault:"localhost"`
	Port         string        `env:"PGPORT" envDefault:"5432"`
	User         string        `env:"PGUSER"`
	Password     string        `env:"PGPASSWORD"`
	Database     string        `env:"PGDATABASE"`
	SSLMode      string        `env:"PGSSLMODE" envDefault:"disable"`
	MaxConns     int32         `env:"PG_MAX_CONNS" envDefault:"10"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
}

// Timeout is the bound applied to every store round trip.
func (c PostgresConfig) Timeout() time.Duration {
	if c.StoreTimeout <= 0 {
		return 5 * time.Second
	}
	return c.StoreTimeout
}

type AuthConfig struct {
	SigningKey       string        `env:"JWT_SIGNING_KEY"`
	Issuer           string        `env:"JWT_ISSUER" envDefault:"bosted-auth"`
	Audience         string        `env:"JWT_AUDIENCE" envDefault:"bosted-api"`
	AccessTTL        time.Duration `env:"JWT_ACCESS_TTL" envDefault:"30m"`
	RefreshTTL       time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	RefreshRetention time.Duration `env:"REFRESH_TOKEN_RETENTION" envDefault:"720h"`
	PurgeInterval    time.Duration `env:"REFRESH_TOKEN_PURGE_INTERVAL" envDefault:"1h"`
	RevokeOnReplay   bool          `env:"AUTH_REVOKE_ON_REPLAY" envDefault:"true"`
	AdminEmail       string        `env:"ADMIN_EMAIL"`
	AdminPassword    string        `env:"ADMIN_PASSWORD"`
}

type CookieConfig struct {
	Name     string `env:"AUTH_COOKIE_NAME" envDefault:"bosted_refresh"`
	Path     string `env:"AUTH_COOKIE_PATH" envDefault:"/"`
	Domain   string `env:"AUTH_COOKIE_DOMAIN"`
	Secure   bool   `env:"AUTH_COOKIE_SECURE" envDefault:"true"`
	SameSite string `env:"AUTH_COOKIE_SAMESITE" envDefault:"lax"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// NotifyConfig enables Slack alerts for replayed refresh tokens and
// sessions revoked by another account. Both token and channel are needed.
type NotifyConfig struct {
	SlackBotToken  string `env:"SLACK_BOT_TOKEN"`
	SlackChannelID string `env:"SLACK_CHANNEL_ID"`
	SlackAPIURL    string `env:"SLACK_API_URL"`
	QueueSize      int    `env:"SLACK_ALERT_QUEUE_SIZE" envDefault:"64"`
}

func (c NotifyConfig) Enabled() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express. The signing key itself is
// validated by the token signer so the rule lives in one place.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: want postgres or memory", c.Store.Driver)
	}
	if c.Auth.AccessTTL <= 0 {
		return errors.New("JWT_ACCESS_TTL must be positive")
	}
	if c.Auth.RefreshTTL <= 0 {
		return errors.New("JWT_REFRESH_TTL must be positive")
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	sameSite, err := ParseSameSite(c.Cookie.SameSite)
	if err != nil {
		return fmt.Errorf("invalid AUTH_COOKIE_SAMESITE: %w", err)
	}
	if sameSite == http.SameSiteNoneMode && !c.Cookie.Secure {
		return errors.New("SameSite=None requires Secure cookie")
	}
	return nil
}

func ParseSameSite(value string) (http.SameSite, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", value)
	}
}
