package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/internal/pkg/env"
	"github.com/coursepay/coursepay/internal/pkg/metrics/counter"
	"github.com/coursepay/coursepay/internal/pkg/reconcile"
)

// Reconciling is the slice of the reconciler service the controller needs.
type Reconciling interface {
	Process(ctx context.Context, provider models.Provider, eventID, eventType string, payload []byte, signatureValid bool) (*reconcile.Result, error)
}

// WebhookController terminates the three provider webhook endpoints. Each
// handler verifies the provider's signature scheme, extracts the event
// identity, and hands off to the reconciler.
type WebhookController struct {
	service Reconciling

	stripeSecret    string
	airwallexSecret string
	copecartAPIKey  string
}

// NewWebhookController wires the controller with per-provider secrets.
func NewWebhookController(service Reconciling, stripeSecret, airwallexSecret, copecartAPIKey string) *WebhookController {
	return &WebhookController{
		service:         service,
		stripeSecret:    stripeSecret,
		airwallexSecret: airwallexSecret,
		copecartAPIKey:  copecartAPIKey,
	}
}

// NewWebhookControllerFromEnv reads the webhook secrets from the environment.
func NewWebhookControllerFromEnv(service Reconciling) *WebhookController {
	return NewWebhookController(
		service,
		env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		env.GetEnv("AIRWALLEX_WEBHOOK_SECRET", ""),
		env.GetEnv("COPECART_API_KEY", ""),
	)
}

// HandleStripe terminates POST /api/v1/webhooks/stripe.
func (wc *WebhookController) HandleStripe(c *fiber.Ctx) error {
	payload := c.Body()
	valid := reconcile.VerifyStripeSignature(payload, c.Get("Stripe-Signature"), wc.stripeSecret)

	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Malformed event"})
	}

	return wc.process(c, models.ProviderStripe, envelope.ID, envelope.Type, payload, valid)
}

// HandleAirwallex terminates POST /api/v1/webhooks/airwallex.
func (wc *WebhookController) HandleAirwallex(c *fiber.Ctx) error {
	payload := c.Body()
	valid := reconcile.VerifyAirwallexSignature(payload, c.Get("x-timestamp"), c.Get("x-signature"), wc.airwallexSecret)

	var envelope struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Malformed event"})
	}

	return wc.process(c, models.ProviderAirwallex, envelope.ID, envelope.Name, payload, valid)
}

// HandleCopeCart terminates POST /api/v1/webhooks/copecart. CopeCart has no
// separate event id, so the order id doubles as the dedup key.
func (wc *WebhookController) HandleCopeCart(c *fiber.Ctx) error {
	payload := c.Body()
	valid := reconcile.VerifyCopeCartSignature(payload, wc.copecartAPIKey)

	var envelope struct {
		Event   string `json:"event"`
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.OrderID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Malformed event"})
	}

	return wc.process(c, models.ProviderCopeCart, envelope.OrderID, envelope.Event, payload, valid)
}

func (wc *WebhookController) process(c *fiber.Ctx, provider models.Provider, eventID, eventType string, payload []byte, signatureValid bool) error {
	if err := counter.AddWebhookReceived(provider, eventType); err != nil {
		log.Printf("webhook received counter: %v", err)
	}
	if !signatureValid {
		if err := counter.AddWebhookInvalid(provider); err != nil {
			log.Printf("webhook invalid counter: %v", err)
		}
	}

	result, err := wc.service.Process(c.UserContext(), provider, eventID, eventType, payload, signatureValid)
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidSignature) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": "Webhook signature verification failed"})
		}
		if errors.Is(err, reconcile.ErrMalformedEvent) {
			// Redelivering an unparseable payload can never succeed;
			// acknowledge it so the provider stops retrying.
			log.Printf("webhook %s/%s malformed: %v", provider, eventID, err)
			return c.JSON(fiber.Map{"received": true, "state": result.State, "error": "malformed_event"})
		}
		log.Printf("webhook %s/%s reconciliation failed: %v", provider, eventID, err)
		// Non-2xx makes the provider redeliver; the dedup record only
		// suppresses events that fully reconciled.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconciliation_failed", "message": "Event could not be processed"})
	}

	return c.JSON(fiber.Map{
		"received":  true,
		"duplicate": result.Duplicate,
		"state":     result.State,
	})
}
