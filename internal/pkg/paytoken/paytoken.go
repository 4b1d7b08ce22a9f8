// Package paytoken implements the portable payment credential carried by the
// client between checkout and upsell requests. The token is reversible
// base64-over-JSON with no signature or encryption: it is a convenience
// capability, not a trust credential. High-value effects must re-validate the
// referenced provider records server-side instead of trusting token contents.
package paytoken

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coursepay/coursepay/app/models"
)

// DefaultMaxAge is the window inside which a token is honored. There is no
// server-side revocation list; validity is purely time-bounded.
const DefaultMaxAge = 24 * time.Hour

// Token carries the provider handles needed to authorize a follow-on charge
// without re-collecting card details. Field names are the wire format.
type Token struct {
	StripeCustomerID    string          `json:"cid,omitempty"`
	PaymentMethodID     string          `json:"pmid,omitempty"`
	Email               string          `json:"email"`
	IssuedAt            int64           `json:"ts"`
	Provider            models.Provider `json:"provider,omitempty"`
	AirwallexCustomerID string          `json:"awcid,omitempty"`
	PaymentConsentID    string          `json:"pcid,omitempty"`
}

// DecodeError describes why a token failed to decode.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("paytoken: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("paytoken: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// New builds a token stamped with the current time.
func New(provider models.Provider, email string) Token {
	return Token{
		Email:    models.NormalizeEmail(email),
		IssuedAt: time.Now().UnixMilli(),
		Provider: provider,
	}
}

// Encode serializes the token as base64-encoded JSON.
func Encode(t Token) (string, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decode parses a base64-encoded JSON token. Malformed input yields a
// *DecodeError; expiry is checked separately via IsExpired.
func Decode(raw string) (*Token, error) {
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	var t Token
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, &DecodeError{Reason: "invalid json", Err: err}
	}
	return &t, nil
}

// IsExpired reports whether the token's issue timestamp is older than maxAge.
func (t *Token) IsExpired(maxAge time.Duration) bool {
	issued := time.UnixMilli(t.IssuedAt)
	return time.Since(issued) >= maxAge
}

// IssuedTime returns the issue timestamp as a time.Time.
func (t *Token) IssuedTime() time.Time {
	return time.UnixMilli(t.IssuedAt)
}
