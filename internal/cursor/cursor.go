// Package cursor encodes the opaque continuation locators the SQL mirror
// hands out in place of platform query locators. A locator is a base64 JSON
// payload naming the object, the server-side query session and the offset of
// the next batch.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const payloadVersion = 1

type payloadV1 struct {
	Version int    `json:"v"`
	Object  string `json:"t"`
	Session string `json:"k"`
	Offset  int    `json:"o"`
}

// Locator is the decoded form of a continuation locator.
type Locator struct {
	Object  string
	Session string
	Offset  int
}

// Encode builds an opaque locator token.
func Encode(loc Locator) string {
	payload := payloadV1{
		Version: payloadVersion,
		Object:  loc.Object,
		Session: loc.Session,
		Offset:  loc.Offset,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode parses a token produced by Encode.
func Decode(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, fmt.Errorf("invalid locator: empty")
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("invalid locator: %w", err)
	}
	var payload payloadV1
	if err := json.Unmarshal(data, &payload); err != nil {
		return Locator{}, fmt.Errorf("invalid locator format")
	}
	if payload.Version != payloadVersion {
		return Locator{}, fmt.Errorf("invalid locator format: unsupported version %d", payload.Version)
	}
	if payload.Object == "" || payload.Session == "" {
		return Locator{}, fmt.Errorf("invalid locator: missing object or session")
	}
	if payload.Offset <= 0 {
		return Locator{}, fmt.Errorf("invalid locator: offset must be positive")
	}
	return Locator{Object: payload.Object, Session: payload.Session, Offset: payload.Offset}, nil
}

// Validate confirms the locator belongs to the expected object.
func Validate(expectedObject string, loc Locator) error {
	if !strings.EqualFold(loc.Object, expectedObject) {
		return fmt.Errorf("locator object mismatch: expected %s, got %s", expectedObject, loc.Object)
	}
	return nil
}
