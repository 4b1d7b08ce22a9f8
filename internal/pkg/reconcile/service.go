// Package reconcile converts asynchronous provider events into canonical
// Purchase/Enrollment state. Providers deliver at least once and out of
// order, so every step is written to converge under repeated application of
// the same event, not merely to be correct on the first one.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/app/repository"
	"github.com/coursepay/coursepay/internal/pkg/bundle"
	"gorm.io/gorm"
)

// ErrInvalidSignature rejects events whose payload signature did not verify.
// Signature verification is mandatory for every provider.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrMalformedEvent marks a payload that can never parse. Redelivering it
// cannot help, so callers acknowledge instead of forcing a retry loop.
var ErrMalformedEvent = errors.New("malformed webhook event")

// State names the reconciliation steps, terminal state Reconciled.
type State string

const (
	StateReceived           State = "received"
	StateValidated          State = "validated"
	StateResolvedUser       State = "resolved_user"
	StateUpsertedPurchase   State = "upserted_purchase"
	StateUpsertedEnrollment State = "upserted_enrollment"
	StateDispatched         State = "dispatched"
	StateReconciled         State = "reconciled"
	StateIgnored            State = "ignored"
	StateFailed             State = "failed"
)

// Notification is the payload fanned out to downstream automation systems.
type Notification struct {
	Email         string   `json:"email"`
	ProductKey    string   `json:"product_key"`
	BundleKey     string   `json:"bundle_key"`
	Tags          []string `json:"tags"`
	Amount        int64    `json:"amount"`
	Currency      string   `json:"currency"`
	Provider      string   `json:"provider"`
	TransactionID string   `json:"transaction_id"`
	Upsell        bool     `json:"upsell"`
}

// Notifier dispatches a notification to named destinations. Dispatch is
// fire-and-forget: failures are logged, never propagated.
type Notifier interface {
	Dispatch(ctx context.Context, destinations []bundle.Destination, n Notification)
}

// Result reports the outcome of processing one delivery.
type Result struct {
	State           State
	Duplicate       bool
	UserID          uint
	PurchaseCreated bool
	BundleKey       string
	Tags            []string
}

// Service is the webhook reconciler.
type Service struct {
	users       repository.UserRepository
	customers   repository.CustomerRepository
	products    repository.ProductRepository
	purchases   repository.PurchaseRepository
	enrollments repository.EnrollmentRepository
	events      repository.WebhookEventRepository
	notifier    Notifier
}

// NewService creates a reconciler from injected repositories and a notifier.
func NewService(
	users repository.UserRepository,
	customers repository.CustomerRepository,
	products repository.ProductRepository,
	purchases repository.PurchaseRepository,
	enrollments repository.EnrollmentRepository,
	events repository.WebhookEventRepository,
	notifier Notifier,
) *Service {
	return &Service{
		users:       users,
		customers:   customers,
		products:    products,
		purchases:   purchases,
		enrollments: enrollments,
		events:      events,
		notifier:    notifier,
	}
}

// Process runs one delivery through the state machine. The caller verifies
// the payload signature and passes the outcome so the attempt is recorded
// either way. A non-nil error means core reconciliation failed and the
// provider should redeliver.
func (s *Service) Process(ctx context.Context, provider models.Provider, eventID, eventType string, payload []byte, signatureValid bool) (*Result, error) {
	// Forged deliveries are rejected before anything is written; only
	// authenticated events earn a row in the dedup table.
	if !signatureValid {
		return &Result{State: StateFailed}, ErrInvalidSignature
	}

	created, stored, err := s.events.CreateIfNotExists(&models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return &Result{State: StateFailed}, fmt.Errorf("webhook event persist: %w", err)
	}
	if !created {
		// Redelivery of a fully reconciled event converges to a no-op. A
		// recorded event whose earlier attempt failed is reprocessed.
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			return &Result{State: StateReconciled, Duplicate: true}, nil
		}
	}

	if !IsHandledType(provider, eventType) {
		_ = s.events.MarkProcessed(stored.ID, "")
		return &Result{State: StateIgnored}, nil
	}

	event, err := ParseEvent(provider, payload)
	if err != nil {
		_ = s.events.MarkProcessed(stored.ID, err.Error())
		return &Result{State: StateFailed}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	result, err := s.reconcile(ctx, event)
	if err != nil {
		_ = s.events.MarkProcessed(stored.ID, err.Error())
		return result, err
	}
	_ = s.events.MarkProcessed(stored.ID, "")
	return result, nil
}

// reconcile applies a validated event: resolve the user, upsert purchase and
// enrollment, update the payment customer, then fan out notifications.
func (s *Service) reconcile(ctx context.Context, event *Event) (*Result, error) {
	if event.Email == "" {
		return &Result{State: StateIgnored}, nil
	}

	user, err := s.resolveUser(event)
	if err != nil {
		return &Result{State: StateFailed}, fmt.Errorf("resolve user: %w", err)
	}

	purchaseCreated, err := s.upsertPurchase(user, event)
	if err != nil {
		return &Result{State: StateResolvedUser, UserID: user.ID}, fmt.Errorf("upsert purchase: %w", err)
	}

	product, productErr := s.products.GetByKey(event.ProductKey)
	if productErr == nil && product.CourseID != 0 {
		if err := s.upsertEnrollment(user.ID, product.CourseID); err != nil {
			return &Result{State: StateUpsertedPurchase, UserID: user.ID}, fmt.Errorf("upsert enrollment: %w", err)
		}
	}

	if err := s.upsertCustomer(event); err != nil {
		// Customer bookkeeping is derived state; log instead of forcing a
		// redelivery that would re-run the whole pipeline.
		log.Printf("reconcile: customer upsert failed for %s: %v", event.Email, err)
	}

	bundleKey, tags, err := s.classify(user.ID)
	if err != nil {
		return &Result{State: StateUpsertedEnrollment, UserID: user.ID}, fmt.Errorf("classify purchases: %w", err)
	}

	destinations := []bundle.Destination{"main", bundle.Route(bundleKey)}
	destinations = append(destinations, tierDestinations(tags)...)
	s.notifier.Dispatch(ctx, destinations, Notification{
		Email:         user.Email,
		ProductKey:    event.ProductKey,
		BundleKey:     bundleKey,
		Tags:          tags,
		Amount:        event.Amount,
		Currency:      event.Currency,
		Provider:      string(event.Provider),
		TransactionID: event.TransactionID,
		Upsell:        event.IsUpsell(),
	})

	return &Result{
		State:           StateReconciled,
		UserID:          user.ID,
		PurchaseCreated: purchaseCreated,
		BundleKey:       bundleKey,
		Tags:            tags,
	}, nil
}

// resolveUser finds or lazily creates the portal identity for the event's
// email. A second event for the same email updates instead of duplicating.
func (s *Service) resolveUser(event *Event) (*models.User, error) {
	user, err := s.users.GetByEmail(event.Email)
	if err == nil {
		changed := false
		if event.CustomerID != "" && user.ProviderCustomerID != event.CustomerID {
			user.ProviderCustomerID = event.CustomerID
			user.PaymentProvider = event.Provider
			changed = true
		}
		if changed {
			if err := s.users.Update(user); err != nil {
				return nil, err
			}
		}
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	password, err := models.GenerateBootstrapPassword()
	if err != nil {
		return nil, err
	}
	user, err = models.CreateUser(event.Email, event.Email, password)
	if err != nil {
		return nil, err
	}
	user.PaymentProvider = event.Provider
	user.ProviderCustomerID = event.CustomerID
	if err := s.users.Create(user); err != nil {
		// Concurrent delivery may have created the row first; converge.
		if existing, lookupErr := s.users.GetByEmail(event.Email); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return user, nil
}

// upsertPurchase records a completed purchase exactly once per provider
// transaction: first complete a matching pending row, otherwise insert with
// the (provider, provider_transaction_id) unique constraint as backstop.
func (s *Service) upsertPurchase(user *models.User, event *Event) (bool, error) {
	if event.TransactionID != "" {
		if existing, err := s.purchases.GetByProviderTransactionID(event.Provider, event.TransactionID); err == nil {
			if existing.IsCompleted() {
				return false, nil
			}
			// Checkout booked the row pending with the transaction id
			// already attached; the event confirms it.
			existing.Complete(event.TransactionID)
			if event.Amount > 0 {
				existing.Amount = event.Amount
			}
			return true, s.purchases.Update(existing)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
	}

	if pending, err := s.purchases.GetPending(user.ID, event.ProductKey); err == nil {
		pending.Complete(event.TransactionID)
		if event.Amount > 0 {
			pending.Amount = event.Amount
		}
		return true, s.purchases.Update(pending)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	txID := event.TransactionID
	purchase := &models.Purchase{
		UserID:     user.ID,
		ProductKey: event.ProductKey,
		Amount:     event.Amount,
		Currency:   event.Currency,
		Status:     models.PurchaseStatusCompleted,
		IsUpsell:   event.IsUpsell(),
		Provider:   event.Provider,
	}
	if txID != "" {
		purchase.ProviderTransactionID = &txID
	}
	created, _, err := s.purchases.CreateIfNotExists(purchase)
	return created, err
}

// upsertEnrollment grants course access: select-then-insert-or-reactivate
// against the (user, course) unique pair.
func (s *Service) upsertEnrollment(userID, courseID uint) error {
	enrollment, err := s.enrollments.GetByUserAndCourse(userID, courseID)
	if err == nil {
		if enrollment.Status == models.EnrollmentStatusActive {
			return nil
		}
		enrollment.Status = models.EnrollmentStatusActive
		return s.enrollments.Update(enrollment)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return s.enrollments.Create(&models.Enrollment{
		UserID:   userID,
		CourseID: courseID,
		Status:   models.EnrollmentStatusActive,
	})
}

// upsertCustomer keeps the payment Customer record current: provider handles
// plus the dedup-appended purchased-product list.
func (s *Service) upsertCustomer(event *Event) error {
	customer, err := s.customers.FindOrCreateByEmail(event.Email)
	if err != nil {
		return err
	}

	customer.PaymentProvider = event.Provider
	switch event.Provider {
	case models.ProviderStripe:
		if event.CustomerID != "" {
			customer.StripeCustomerID = event.CustomerID
		}
	case models.ProviderAirwallex:
		if event.CustomerID != "" {
			customer.AirwallexCustomerID = event.CustomerID
		}
		if event.ConsentID != "" {
			customer.AirwallexPaymentConsentID = event.ConsentID
		}
	}
	customer.AddPurchasedProduct(event.ProductKey)

	return s.customers.Update(customer)
}

// classify recomputes the bundle key and analytics tags from the user's
// completed purchase history.
func (s *Service) classify(userID uint) (string, []string, error) {
	purchases, err := s.purchases.ListByUser(userID)
	if err != nil {
		return "", nil, err
	}

	var total int64
	hasSubscription := false
	keys := make([]string, 0, len(purchases))
	for _, p := range purchases {
		if !p.IsCompleted() {
			continue
		}
		total += p.Amount
		keys = append(keys, p.ProductKey)
		if product, err := s.products.GetByKey(p.ProductKey); err == nil && product.Recurring {
			hasSubscription = true
		}
	}

	addOns := bundle.AddOnsOf(keys)
	return bundle.Classify(addOns), bundle.Tags(total, addOns, hasSubscription), nil
}

// tierDestinations maps tier tags to their dedicated destinations.
func tierDestinations(tags []string) []bundle.Destination {
	var out []bundle.Destination
	for _, tag := range tags {
		switch tag {
		case bundle.TagWhale, bundle.TagHighValue, bundle.TagUpsellBuyer:
			out = append(out, bundle.Destination("tier_"+tag))
		}
	}
	return out
}
