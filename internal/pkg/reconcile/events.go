package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coursepay/coursepay/app/models"
)

// SourceOneClickUpsell marks charges created by the upsell flow.
const SourceOneClickUpsell = "one_click_upsell"

// Event is the provider-agnostic shape of a payment webhook after parsing.
type Event struct {
	Provider      models.Provider
	ID            string
	Type          string
	TransactionID string
	Email         string
	ProductKey    string
	Amount        int64
	Currency      string
	Source        string
	CustomerID    string
	ConsentID     string
}

// IsUpsell reports whether the event came from the one-click upsell flow.
func (e *Event) IsUpsell() bool {
	return e.Source == SourceOneClickUpsell
}

// handledStripeTypes lists the event types that drive reconciliation; all
// others are acknowledged and ignored.
func isHandledStripeType(eventType string) bool {
	switch eventType {
	case "payment_intent.succeeded", "invoice.paid":
		return true
	default:
		return false
	}
}

func isHandledAirwallexType(eventType string) bool {
	return eventType == "payment_intent.succeeded"
}

func isHandledCopeCartType(eventType string) bool {
	switch eventType {
	case "payment.completed", "payment.made":
		return true
	default:
		return false
	}
}

// ParseStripeEvent decodes the signed envelope {id, type, data:{object}}.
func ParseStripeEvent(payload []byte) (*Event, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID           string `json:"id"`
				Amount       int64  `json:"amount"`
				Currency     string `json:"currency"`
				Customer     string `json:"customer"`
				ReceiptEmail string `json:"receipt_email"`
				Metadata     struct {
					ProductKey string `json:"product_key"`
					Source     string `json:"source"`
					Email      string `json:"email"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if raw.Type == "" {
		return nil, errors.New("stripe event missing type")
	}

	email := models.NormalizeEmail(raw.Data.Object.ReceiptEmail)
	if email == "" {
		email = models.NormalizeEmail(raw.Data.Object.Metadata.Email)
	}

	return &Event{
		Provider:      models.ProviderStripe,
		ID:            raw.ID,
		Type:          raw.Type,
		TransactionID: raw.Data.Object.ID,
		Email:         email,
		ProductKey:    raw.Data.Object.Metadata.ProductKey,
		Amount:        raw.Data.Object.Amount,
		Currency:      strings.ToLower(raw.Data.Object.Currency),
		Source:        raw.Data.Object.Metadata.Source,
		CustomerID:    raw.Data.Object.Customer,
	}, nil
}

// ParseAirwallexEvent decodes the {id, name, data:{object}} envelope.
func ParseAirwallexEvent(payload []byte) (*Event, error) {
	var raw struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Data struct {
			Object struct {
				ID               string  `json:"id"`
				Amount           float64 `json:"amount"`
				Currency         string  `json:"currency"`
				CustomerID       string  `json:"customer_id"`
				PaymentConsentID string  `json:"payment_consent_id"`
				Metadata         struct {
					ProductKey string `json:"product_key"`
					Source     string `json:"source"`
					Email      string `json:"email"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if raw.Name == "" {
		return nil, errors.New("airwallex event missing name")
	}

	return &Event{
		Provider:      models.ProviderAirwallex,
		ID:            raw.ID,
		Type:          raw.Name,
		TransactionID: raw.Data.Object.ID,
		Email:         models.NormalizeEmail(raw.Data.Object.Metadata.Email),
		ProductKey:    raw.Data.Object.Metadata.ProductKey,
		Amount:        int64(raw.Data.Object.Amount*100 + 0.5),
		Currency:      strings.ToLower(raw.Data.Object.Currency),
		Source:        raw.Data.Object.Metadata.Source,
		CustomerID:    raw.Data.Object.CustomerID,
		ConsentID:     raw.Data.Object.PaymentConsentID,
	}, nil
}

// ParseCopeCartEvent decodes the flat MD5-signed payload.
func ParseCopeCartEvent(payload []byte) (*Event, error) {
	var raw struct {
		Event      string  `json:"event"`
		OrderID    string  `json:"order_id"`
		BuyerEmail string  `json:"buyer_email"`
		ProductKey string  `json:"product_key"`
		Amount     float64 `json:"amount"`
		Currency   string  `json:"currency"`
		Source     string  `json:"source"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if raw.Event == "" {
		return nil, errors.New("copecart event missing event field")
	}
	if raw.OrderID == "" {
		return nil, errors.New("copecart event missing order_id")
	}

	return &Event{
		Provider:      models.ProviderCopeCart,
		ID:            raw.OrderID,
		Type:          raw.Event,
		TransactionID: raw.OrderID,
		Email:         models.NormalizeEmail(raw.BuyerEmail),
		ProductKey:    raw.ProductKey,
		Amount:        int64(raw.Amount*100 + 0.5),
		Currency:      strings.ToLower(raw.Currency),
		Source:        raw.Source,
	}, nil
}

// ParseEvent dispatches to the provider-specific parser.
func ParseEvent(provider models.Provider, payload []byte) (*Event, error) {
	switch provider {
	case models.ProviderStripe:
		return ParseStripeEvent(payload)
	case models.ProviderAirwallex:
		return ParseAirwallexEvent(payload)
	case models.ProviderCopeCart:
		return ParseCopeCartEvent(payload)
	default:
		return nil, fmt.Errorf("unsupported webhook provider: %s", provider)
	}
}

// IsHandledType reports whether the event type drives reconciliation.
func IsHandledType(provider models.Provider, eventType string) bool {
	switch provider {
	case models.ProviderStripe:
		return isHandledStripeType(eventType)
	case models.ProviderAirwallex:
		return isHandledAirwallexType(eventType)
	case models.ProviderCopeCart:
		return isHandledCopeCartType(eventType)
	default:
		return false
	}
}
