// Package audit records security-relevant auth events as structured log lines.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/bosted-app/backend/internal/ids"
)

type EventType string

const (
	LoginSucceeded    EventType = "login.succeeded"
	LoginFailed       EventType = "login.failed"
	TokenRefreshed    EventType = "token.refreshed"
	RefreshReplayed   EventType = "token.replayed"
	UserRegistered    EventType = "user.registered"
	PasswordChanged   EventType = "password.changed"
	SessionsRevoked   EventType = "sessions.revoked"
	LoggedOut         EventType = "session.logged_out"
	AdminBootstrapped EventType = "admin.bootstrapped"
)

type Event struct {
	ID        string
	Type      EventType
	UserID    string
	Email     string
	ActorID   string
	RequestID string
	Detail    string
	Count     int64
	At        time.Time
}

// Recorder is implemented by Logger; tests substitute an in-memory sink.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type Logger struct {
	log *slog.Logger
	now func() time.Time
}

func NewLogger(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{log: log.With(slog.String("component", "audit")), now: time.Now}
}

func (l *Logger) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.At.IsZero() {
		event.At = l.now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = RequestID(ctx)
	}

	attrs := []slog.Attr{
		slog.String("event_id", event.ID),
		slog.String("event", string(event.Type)),
		slog.Time("at", event.At),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", event.Email))
	}
	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", event.ActorID))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}
	if event.Count != 0 {
		attrs = append(attrs, slog.Int64("count", event.Count))
	}

	level := slog.LevelInfo
	if event.Type == RefreshReplayed || event.Type == LoginFailed {
		level = slog.LevelWarn
	}
	l.log.LogAttrs(ctx, level, "audit", attrs...)
}

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Fanout stamps ID, time and request id once, then hands the event to each
// recorder in order.
type Fanout struct {
	recorders []Recorder
	now       func() time.Time
}

func NewFanout(recorders ...Recorder) *Fanout {
	f := &Fanout{now: time.Now}
	for _, r := range recorders {
		if r != nil {
			f.recorders = append(f.recorders, r)
		}
	}
	return f
}

func (f *Fanout) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.At.IsZero() {
		event.At = f.now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = RequestID(ctx)
	}
	for _, r := range f.recorders {
		r.Record(ctx, event)
	}
}
