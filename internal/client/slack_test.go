package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bosted-app/backend/internal/audit"
	"github.com/bosted-app/backend/internal/logging"
)

type slackStub struct {
	mu       sync.Mutex
	messages []SlackMessage
	auth     []string
	reply    string
}

func (s *slackStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var msg SlackMessage
	_ = json.Unmarshal(body, &msg)
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	reply := s.reply
	s.mu.Unlock()
	if reply == "" {
		reply = `{"ok":true,"ts":"1.0"}`
	}
	_, _ = io.WriteString(w, reply)
}

func (s *slackStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func TestSlackPost(t *testing.T) {
	stub := &slackStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	c := NewSlackClient("xoxb-test", "C123", WithSlackEndpoint(srv.URL))
	if err := c.Post(context.Background(), SlackAttachment{Title: "hello"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if stub.count() != 1 {
		t.Fatalf("expected one message, got %d", stub.count())
	}
	if stub.messages[0].Channel != "C123" || stub.auth[0] != "Bearer xoxb-test" {
		t.Fatalf("unexpected request: %+v %q", stub.messages[0], stub.auth[0])
	}

	stub.reply = `{"ok":false,"error":"channel_not_found"}`
	if err := c.Post(context.Background(), SlackAttachment{Title: "again"}); err == nil {
		t.Fatalf("expected slack API error")
	}
}

func TestSlackNotConfigured(t *testing.T) {
	c := NewSlackClient("", "")
	if c.IsConfigured() {
		t.Fatalf("expected unconfigured client")
	}
	if err := c.Post(context.Background(), SlackAttachment{}); !errors.Is(err, ErrSlackNotConfigured) {
		t.Fatalf("expected ErrSlackNotConfigured, got %v", err)
	}
}

func TestSecurityAlerterFiltersEvents(t *testing.T) {
	stub := &slackStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	alerter := NewSecurityAlerter(NewSlackClient("xoxb-test", "C123", WithSlackEndpoint(srv.URL)), logging.Discard(), 8)
	ctx := context.Background()
	alerter.Record(ctx, audit.Event{Type: audit.LoginSucceeded, UserID: "u1"})
	alerter.Record(ctx, audit.Event{Type: audit.SessionsRevoked, UserID: "u1", ActorID: "u1", Count: 2})
	alerter.Record(ctx, audit.Event{Type: audit.RefreshReplayed, UserID: "u1", Count: 3, At: time.Unix(100, 0)})
	alerter.Record(ctx, audit.Event{Type: audit.SessionsRevoked, UserID: "u1", ActorID: "admin", Count: 1})
	alerter.Close()

	if stub.count() != 2 {
		t.Fatalf("expected 2 alerts, got %d", stub.count())
	}
	first := stub.messages[0].Attachments[0]
	if first.Title != "Refresh token replay detected" || first.Color != colorCritical || first.Ts != 100 {
		t.Fatalf("unexpected replay attachment: %+v", first)
	}
	if stub.messages[1].Attachments[0].Color != colorWarning {
		t.Fatalf("unexpected revocation attachment: %+v", stub.messages[1].Attachments[0])
	}
}

func TestSecurityAlerterRecordAfterClose(t *testing.T) {
	alerter := NewSecurityAlerter(NewSlackClient("", ""), logging.Discard(), 1)
	alerter.Close()
	alerter.Close()
	alerter.Record(context.Background(), audit.Event{Type: audit.RefreshReplayed, UserID: "u1"})
}
