package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bosted-app/backend/internal/audit"
)

const (
	colorCritical = "#dc3545"
	colorWarning  = "#ffc107"
)

// SecurityAlerter forwards replay and bulk-revocation audit events to Slack.
// Delivery happens on a background worker so request paths never wait on
// Slack; events are dropped when the queue is full.
type SecurityAlerter struct {
	slack *SlackClient
	log   *slog.Logger
	queue chan audit.Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewSecurityAlerter(slack *SlackClient, log *slog.Logger, queueSize int) *SecurityAlerter {
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = slog.Default()
	}
	a := &SecurityAlerter{
		slack: slack,
		log:   log.With(slog.String("component", "security_alert")),
		queue: make(chan audit.Event, queueSize),
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// Record implements audit.Recorder.
func (a *SecurityAlerter) Record(_ context.Context, event audit.Event) {
	if !alertable(event) {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- event:
	default:
		a.log.Warn("security alert dropped, queue full", slog.String("event", string(event.Type)))
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (a *SecurityAlerter) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *SecurityAlerter) loop() {
	defer a.wg.Done()
	for event := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := a.slack.Post(ctx, buildAttachment(event)); err != nil {
			a.log.Warn("security alert delivery failed", slog.String("event_id", event.ID), slog.Any("error", err))
		}
		cancel()
	}
}

func alertable(event audit.Event) bool {
	switch event.Type {
	case audit.RefreshReplayed:
		return true
	case audit.SessionsRevoked:
		// Self-service logout-all is routine; revocations by someone else are not.
		return event.ActorID != "" && event.ActorID != event.UserID
	default:
		return false
	}
}

func buildAttachment(event audit.Event) SlackAttachment {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	fields := []SlackField{
		{Title: "User", Value: valueOr(event.UserID, "unknown"), Short: true},
		{Title: "Sessions revoked", Value: fmt.Sprintf("%d", event.Count), Short: true},
	}
	if event.RequestID != "" {
		fields = append(fields, SlackField{Title: "Request", Value: event.RequestID, Short: true})
	}

	switch event.Type {
	case audit.RefreshReplayed:
		text := "A spent refresh token was presented again."
		if event.Detail != "" {
			text += " (" + event.Detail + ")"
		}
		return SlackAttachment{
			Color:  colorCritical,
			Title:  "Refresh token replay detected",
			Text:   text,
			Footer: "bosted-auth",
			Ts:     at.Unix(),
			Fields: fields,
		}
	default:
		fields = append(fields, SlackField{Title: "Actor", Value: event.ActorID, Short: true})
		return SlackAttachment{
			Color:  colorWarning,
			Title:  "Sessions revoked by another account",
			Text:   "All refresh tokens of the user were revoked.",
			Footer: "bosted-auth",
			Ts:     at.Unix(),
			Fields: fields,
		}
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
