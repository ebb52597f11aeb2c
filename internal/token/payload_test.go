package token

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/bosted-app/backend/internal/model"
)

func TestDecodePayload(t *testing.T) {
	s := newTestSigner(t, time.Now)
	raw, _, err := s.Issue(Claims{UserID: "user-9", Email: "b@example.com", Role: model.RoleUser, TenantID: 7}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	payload, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload["sub"] != "user-9" {
		t.Fatalf("unexpected sub: %v", payload["sub"])
	}
	if payload["bostedId"] != float64(7) {
		t.Fatalf("unexpected bostedId: %v", payload["bostedId"])
	}
	if payload["unique_name"] != "b@example.com" {
		t.Fatalf("unexpected unique_name: %v", payload["unique_name"])
	}
}

func TestDecodePayloadPadding(t *testing.T) {
	body := []byte(`{"sub":"x1"}`)
	padded := base64.URLEncoding.EncodeToString(body)
	unpadded := base64.RawURLEncoding.EncodeToString(body)
	std := base64.StdEncoding.EncodeToString(body)

	for name, seg := range map[string]string{"padded": padded, "unpadded": unpadded, "std": std} {
		t.Run(name, func(t *testing.T) {
			payload, err := DecodePayload("e30." + seg + ".sig")
			if err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if payload["sub"] != "x1" {
				t.Fatalf("unexpected payload: %v", payload)
			}
		})
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	for _, raw := range []string{"", "a.b", "a..c", "a.!!!.c", "a." + base64.RawURLEncoding.EncodeToString([]byte("[]")) + ".c"} {
		if _, err := DecodePayload(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
