// Package payments normalizes two structurally different payment providers
// behind one decision path: Stripe (customer + stored payment method) and
// Airwallex (customer + payment consent). Callers select the variant from the
// explicit provider tag carried on the Customer record or payment token,
// never by probing field presence.
package payments

import (
	"context"

	"github.com/coursepay/coursepay/app/models"
)

// ChargeKind distinguishes one-time charges from recurring subscriptions in
// normalized results.
type ChargeKind string

const (
	ChargeKindOneTime      ChargeKind = "one_time"
	ChargeKindSubscription ChargeKind = "subscription"
)

// Normalized charge statuses across providers.
const (
	ChargeStatusSucceeded            = "succeeded"
	ChargeStatusRequiresConfirmation = "requires_confirmation"
	ChargeStatusPending              = "pending"
	ChargeStatusFailed               = "failed"
)

// ChargeResult is the provider-agnostic outcome of a charge-creating call.
type ChargeResult struct {
	ID     string     `json:"id"`
	Amount int64      `json:"amount"`
	Status string     `json:"status"`
	Kind   ChargeKind `json:"kind"`
}

// CustomerHandle bundles the provider-specific identifiers needed to
// authorize a charge without re-collecting card details.
type CustomerHandle struct {
	Provider         models.Provider
	Email            string
	CustomerID       string
	PaymentMethodID  string // Stripe stored payment method
	PaymentConsentID string // Airwallex payment consent
}

// ChargeParams describes one charge-creating call. IdempotencyKey must be set
// on every call so provider-side retries converge on a single charge.
type ChargeParams struct {
	Handle         CustomerHandle
	Product        models.Product
	IdempotencyKey string
	Upsell         bool
}

// Gateway is the uniform capability set over both provider variants.
type Gateway interface {
	Provider() models.Provider
	Authenticate(ctx context.Context) error
	FindOrCreateCustomer(ctx context.Context, email string) (*CustomerHandle, error)
	CreateCharge(ctx context.Context, params ChargeParams) (*ChargeResult, error)
	ConfirmCharge(ctx context.Context, intentID string, params ChargeParams) (*ChargeResult, error)
	CreateSubscription(ctx context.Context, params ChargeParams) (*ChargeResult, error)
}
