package payments

import "errors"

// Error taxonomy crossed at the component boundary. Raw provider errors are
// translated into these before they leave the package; HTTP mapping happens
// in the controllers.
var (
	// ErrInvalidInput marks missing or malformed caller input. Not retryable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks an unknown product or customer. Not retryable.
	ErrNotFound = errors.New("not found")

	// ErrCardDeclined marks a provider-reported decline. The user must supply
	// a new payment method; never retried automatically.
	ErrCardDeclined = errors.New("card declined")

	// ErrProviderUnavailable marks a transient provider failure (network,
	// timeout, 5xx). Retryable with the same idempotency-safe inputs, because
	// the charge may have succeeded without the response reaching us.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNoPaymentMethod marks a customer with no resolvable payment handle.
	ErrNoPaymentMethod = errors.New("no payment method on file")

	// ErrAlreadyPurchased marks a duplicate-purchase business rejection.
	ErrAlreadyPurchased = errors.New("product already purchased")

	// ErrTokenExpired marks a payment token outside its validity window.
	ErrTokenExpired = errors.New("payment token expired")
)
