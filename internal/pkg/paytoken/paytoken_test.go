package paytoken

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/coursepay/coursepay/app/models"
	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		token Token
	}{
		{
			name: "stripe handle",
			token: Token{
				StripeCustomerID: "cus_123",
				PaymentMethodID:  "pm_456",
				Email:            "buyer@example.com",
				IssuedAt:         1700000000000,
				Provider:         models.ProviderStripe,
			},
		},
		{
			name: "airwallex handle",
			token: Token{
				Email:               "buyer@example.com",
				IssuedAt:            1700000000000,
				Provider:            models.ProviderAirwallex,
				AirwallexCustomerID: "awc_789",
				PaymentConsentID:    "cst_abc",
			},
		},
		{
			name:  "minimal fields",
			token: Token{Email: "a@b.co", IssuedAt: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.token)
			assert.NoError(t, err)

			decoded, err := Decode(encoded)
			assert.NoError(t, err)
			assert.Equal(t, tt.token, *decoded)
		})
	}
}

func TestDecodeMalformedBase64(t *testing.T) {
	_, err := Decode("!!not-base64!!")
	assert.Error(t, err)

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "invalid base64", decodeErr.Reason)
}

func TestDecodeMalformedJSON(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("{not json"))
	_, err := Decode(raw)
	assert.Error(t, err)

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "invalid json", decodeErr.Reason)
}

func TestIsExpiredBoundary(t *testing.T) {
	maxAge := DefaultMaxAge

	expired := Token{IssuedAt: time.Now().Add(-maxAge - time.Millisecond).UnixMilli()}
	assert.True(t, expired.IsExpired(maxAge))

	valid := Token{IssuedAt: time.Now().Add(-maxAge + 10*time.Millisecond).UnixMilli()}
	assert.False(t, valid.IsExpired(maxAge))
}

func TestNewStampsIssuedAt(t *testing.T) {
	before := time.Now().UnixMilli()
	tok := New(models.ProviderStripe, " Buyer@Example.COM ")
	after := time.Now().UnixMilli()

	assert.Equal(t, "buyer@example.com", tok.Email)
	assert.GreaterOrEqual(t, tok.IssuedAt, before)
	assert.LessOrEqual(t, tok.IssuedAt, after)
	assert.False(t, tok.IsExpired(DefaultMaxAge))
}
