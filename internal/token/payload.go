package token

import (
	"encoding/json"
	"strings"
)

// DecodePayload returns the claims segment of a compact token without
// verifying it. Clients use it to read expiry or display names; it must never
// be used for an authorization decision.
func DecodePayload(raw string) (map[string]any, error) {
	segments := strings.Split(strings.TrimSpace(raw), ".")
	if len(segments) != 3 || segments[1] == "" {
		return nil, ErrInvalidToken
	}
	data, err := decodeSegment(segments[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, ErrInvalidToken
	}
	return payload, nil
}
