package models

import (
	"strings"
	"time"
)

// Provider identifies the payment provider a customer or purchase belongs to.
// It is carried explicitly on records and tokens; callers must never guess the
// provider from which ID fields happen to be populated.
type Provider string

const (
	ProviderStripe    Provider = "stripe"
	ProviderAirwallex Provider = "airwallex"
	ProviderCopeCart  Provider = "copecart"
)

// Valid reports whether p is a known provider tag.
func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderAirwallex, ProviderCopeCart:
		return true
	default:
		return false
	}
}

// ParseProvider normalizes a raw provider tag.
func ParseProvider(raw string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	return p, p.Valid()
}

// Customer is the payment identity keyed by normalized email. It owns the
// provider-side handles needed to authorize off-session charges and the list
// of product keys the customer has completed purchases for.
//
// Customers are created on the first successful charge or webhook event and
// mutated by every subsequent one. Automated code paths never delete them.
type Customer struct {
	ID                        uint      `gorm:"primaryKey" json:"id"`
	Email                     string    `gorm:"uniqueIndex;type:varchar(200);not null" json:"email" validate:"required,email"`
	StripeCustomerID          string    `gorm:"type:varchar(191);default:'';index" json:"stripe_customer_id"`
	AirwallexCustomerID       string    `gorm:"type:varchar(191);default:'';index" json:"airwallex_customer_id"`
	AirwallexPaymentConsentID string    `gorm:"type:varchar(191);default:''" json:"airwallex_payment_consent_id"`
	PaymentProvider           Provider  `gorm:"type:varchar(20);default:''" json:"payment_provider"`
	ProductsPurchased         []string  `gorm:"serializer:json;type:text" json:"products_purchased"`
	CreatedAt                 time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an email for use as a customer key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AddPurchasedProduct appends a product key to the purchased list, skipping
// keys that are already present. Returns true if the list changed.
func (c *Customer) AddPurchasedProduct(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	for _, existing := range c.ProductsPurchased {
		if existing == key {
			return false
		}
	}
	c.ProductsPurchased = append(c.ProductsPurchased, key)
	return true
}

// HasPurchased reports whether the product key is in the purchased list.
func (c *Customer) HasPurchased(key string) bool {
	for _, existing := range c.ProductsPurchased {
		if existing == key {
			return true
		}
	}
	return false
}
