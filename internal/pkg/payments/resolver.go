package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/app/repository"
	"github.com/coursepay/coursepay/internal/pkg/paytoken"
	"gorm.io/gorm"
)

// StripeMethodLookup is the slice of the Stripe client the resolver needs.
type StripeMethodLookup interface {
	DefaultPaymentMethod(ctx context.Context, customerID string) (string, error)
}

// ConsentLookup is the slice of the Airwallex client the resolver needs.
type ConsentLookup interface {
	LatestPaymentConsent(ctx context.Context, customerID string) (string, error)
}

// Resolver finds or reconstructs a provider-linked payment handle. The token
// is the fast path; once it expires the durable provider relationship is
// rebuilt from the persisted Customer record plus a provider lookup, so
// delayed upsell flows keep working after the 24h window.
type Resolver struct {
	customers repository.CustomerRepository
	stripe    StripeMethodLookup
	airwallex ConsentLookup
}

// NewResolver creates a resolver over the customer store and provider clients.
func NewResolver(customers repository.CustomerRepository, stripe StripeMethodLookup, airwallex ConsentLookup) *Resolver {
	return &Resolver{
		customers: customers,
		stripe:    stripe,
		airwallex: airwallex,
	}
}

// Resolve returns a usable payment handle, preferring the token, then the
// persisted customer record plus provider lookup. With neither available it
// fails with ErrNoPaymentMethod, or ErrTokenExpired when an expired token was
// the only identity supplied.
func (r *Resolver) Resolve(ctx context.Context, tok *paytoken.Token, email string) (*CustomerHandle, error) {
	if tok != nil && tok.IsExpired(paytoken.DefaultMaxAge) {
		// An expired token contributes nothing, not even its embedded email.
		// Falling back to stored state requires an independently supplied
		// identity.
		if email == "" {
			return nil, ErrTokenExpired
		}
	} else if tok != nil {
		if handle, ok := handleFromToken(tok); ok {
			return handle, nil
		}
		if email == "" {
			email = tok.Email
		}
	}
	if email == "" {
		return nil, ErrNoPaymentMethod
	}

	customer, err := r.customers.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPaymentMethod
		}
		return nil, fmt.Errorf("customer lookup: %w", err)
	}

	switch customer.PaymentProvider {
	case models.ProviderStripe:
		if customer.StripeCustomerID == "" {
			return nil, ErrNoPaymentMethod
		}
		pm, err := r.stripe.DefaultPaymentMethod(ctx, customer.StripeCustomerID)
		if err != nil {
			return nil, err
		}
		return &CustomerHandle{
			Provider:        models.ProviderStripe,
			Email:           customer.Email,
			CustomerID:      customer.StripeCustomerID,
			PaymentMethodID: pm,
		}, nil

	case models.ProviderAirwallex:
		if customer.AirwallexCustomerID == "" {
			return nil, ErrNoPaymentMethod
		}
		consent := customer.AirwallexPaymentConsentID
		if consent == "" {
			consent, err = r.airwallex.LatestPaymentConsent(ctx, customer.AirwallexCustomerID)
			if err != nil {
				return nil, err
			}
		}
		return &CustomerHandle{
			Provider:         models.ProviderAirwallex,
			Email:            customer.Email,
			CustomerID:       customer.AirwallexCustomerID,
			PaymentConsentID: consent,
		}, nil

	default:
		return nil, ErrNoPaymentMethod
	}
}

// Complete fills the stored charge credential missing from a provider
// customer handle: the Stripe default payment method or the latest Airwallex
// payment consent. Handles that already carry a credential pass through
// without a provider call.
func (r *Resolver) Complete(ctx context.Context, handle *CustomerHandle) (*CustomerHandle, error) {
	if handle == nil || handle.CustomerID == "" {
		return nil, ErrNoPaymentMethod
	}

	switch handle.Provider {
	case models.ProviderStripe:
		if handle.PaymentMethodID == "" {
			pm, err := r.stripe.DefaultPaymentMethod(ctx, handle.CustomerID)
			if err != nil {
				return nil, err
			}
			handle.PaymentMethodID = pm
		}
	case models.ProviderAirwallex:
		if handle.PaymentConsentID == "" {
			consent, err := r.airwallex.LatestPaymentConsent(ctx, handle.CustomerID)
			if err != nil {
				return nil, err
			}
			handle.PaymentConsentID = consent
		}
	default:
		return nil, ErrNoPaymentMethod
	}
	return handle, nil
}

// handleFromToken extracts a complete handle from token fields. Tokens with a
// missing provider tag or incomplete provider fields fall through to the
// persisted-state path.
func handleFromToken(tok *paytoken.Token) (*CustomerHandle, bool) {
	switch tok.Provider {
	case models.ProviderStripe:
		if tok.StripeCustomerID == "" || tok.PaymentMethodID == "" {
			return nil, false
		}
		return &CustomerHandle{
			Provider:        models.ProviderStripe,
			Email:           models.NormalizeEmail(tok.Email),
			CustomerID:      tok.StripeCustomerID,
			PaymentMethodID: tok.PaymentMethodID,
		}, true
	case models.ProviderAirwallex:
		if tok.AirwallexCustomerID == "" || tok.PaymentConsentID == "" {
			return nil, false
		}
		return &CustomerHandle{
			Provider:         models.ProviderAirwallex,
			Email:            models.NormalizeEmail(tok.Email),
			CustomerID:       tok.AirwallexCustomerID,
			PaymentConsentID: tok.PaymentConsentID,
		}, true
	default:
		return nil, false
	}
}
