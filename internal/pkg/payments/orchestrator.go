package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/app/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StripeGateway extends Gateway with the price-registry operations only the
// payment-method variant needs.
type StripeGateway interface {
	Gateway
	CreatePrice(ctx context.Context, product models.Product) (string, error)
	CreateSubscriptionWithPrice(ctx context.Context, params ChargeParams, priceID string) (*ChargeResult, error)
}

// Orchestrator executes one-time charges and subscriptions against a resolved
// payment handle, provider-agnostic beyond the initial variant selection.
//
// Bookkeeping split: for subscription and consent flows a pending Purchase is
// pre-created before the provider call and completed afterwards, shrinking
// the window where a successful charge has no record if the process dies
// mid-flow. For direct charges the caller persists the Purchase from the
// returned result.
type Orchestrator struct {
	products  repository.ProductRepository
	purchases repository.PurchaseRepository
	prices    repository.PriceRepository
	stripe    StripeGateway
	airwallex Gateway
}

// NewOrchestrator creates a charge orchestrator from injected dependencies.
func NewOrchestrator(
	products repository.ProductRepository,
	purchases repository.PurchaseRepository,
	prices repository.PriceRepository,
	stripe StripeGateway,
	airwallex Gateway,
) *Orchestrator {
	return &Orchestrator{
		products:  products,
		purchases: purchases,
		prices:    prices,
		stripe:    stripe,
		airwallex: airwallex,
	}
}

// Charge validates the product, rejects duplicates, and routes to the
// provider variant. The returned Purchase is non-nil only when the
// orchestrator pre-created and completed a pending row itself.
func (o *Orchestrator) Charge(ctx context.Context, handle *CustomerHandle, userID uint, productKey string, upsell bool) (*ChargeResult, *models.Purchase, error) {
	if handle == nil || userID == 0 || productKey == "" {
		return nil, nil, fmt.Errorf("%w: handle, user and product key are required", ErrInvalidInput)
	}

	product, err := o.products.GetByKey(productKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: unknown product %q", ErrNotFound, productKey)
		}
		return nil, nil, err
	}
	if !product.Active {
		return nil, nil, fmt.Errorf("%w: product %q is not for sale", ErrNotFound, productKey)
	}

	already, err := o.purchases.HasCompleted(userID, product.Key)
	if err != nil {
		return nil, nil, err
	}
	if already {
		return nil, nil, ErrAlreadyPurchased
	}

	params := ChargeParams{
		Handle:         *handle,
		Product:        *product,
		IdempotencyKey: uuid.NewString(),
		Upsell:         upsell,
	}

	switch handle.Provider {
	case models.ProviderStripe:
		return o.chargeStripe(ctx, params, userID)
	case models.ProviderAirwallex:
		return o.chargeAirwallex(ctx, params, userID)
	default:
		return nil, nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidInput, handle.Provider)
	}
}

func (o *Orchestrator) chargeStripe(ctx context.Context, params ChargeParams, userID uint) (*ChargeResult, *models.Purchase, error) {
	if !params.Product.Recurring {
		// Single create-with-off-session-confirm call; the caller books the
		// completed purchase from the result.
		result, err := o.stripe.CreateCharge(ctx, params)
		if err != nil {
			return nil, nil, err
		}
		if result.Status == ChargeStatusFailed {
			return nil, nil, ErrCardDeclined
		}
		return result, nil, nil
	}

	priceID, err := o.priceFor(ctx, params.Product)
	if err != nil {
		return nil, nil, err
	}

	pending, err := o.preCreatePending(params, userID)
	if err != nil {
		return nil, nil, err
	}

	result, err := o.stripe.CreateSubscriptionWithPrice(ctx, params, priceID)
	if err != nil {
		return nil, pending, err
	}
	if result.Status == ChargeStatusFailed {
		return nil, pending, ErrCardDeclined
	}

	pending.Complete(result.ID)
	if err := o.purchases.Update(pending); err != nil {
		return result, pending, err
	}
	return result, pending, nil
}

func (o *Orchestrator) chargeAirwallex(ctx context.Context, params ChargeParams, userID uint) (*ChargeResult, *models.Purchase, error) {
	pending, err := o.preCreatePending(params, userID)
	if err != nil {
		return nil, nil, err
	}

	var result *ChargeResult
	if params.Product.Recurring {
		result, err = o.airwallex.CreateSubscription(ctx, params)
	} else {
		result, err = o.airwallex.CreateCharge(ctx, params)
		if err == nil && result.Status == ChargeStatusRequiresConfirmation {
			result, err = o.airwallex.ConfirmCharge(ctx, result.ID, params)
		}
	}
	if err != nil {
		return nil, pending, err
	}
	if result.Status == ChargeStatusFailed {
		return nil, pending, ErrCardDeclined
	}

	pending.Complete(result.ID)
	if err := o.purchases.Update(pending); err != nil {
		return result, pending, err
	}
	return result, pending, nil
}

// preCreatePending records the charge attempt before the provider call.
func (o *Orchestrator) preCreatePending(params ChargeParams, userID uint) (*models.Purchase, error) {
	pending := &models.Purchase{
		UserID:     userID,
		ProductKey: params.Product.Key,
		Amount:     params.Product.Price,
		Currency:   params.Product.Currency,
		Status:     models.PurchaseStatusPending,
		IsUpsell:   params.Upsell,
		Provider:   params.Handle.Provider,
	}
	if err := o.purchases.Create(pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// priceFor returns the cached provider price for a product, creating and
// registering one on first use so subscriptions reuse a single price object.
func (o *Orchestrator) priceFor(ctx context.Context, product models.Product) (string, error) {
	cached, err := o.prices.GetByProduct(models.ProviderStripe, product.Key)
	if err == nil {
		return cached.ProviderPriceID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	priceID, err := o.stripe.CreatePrice(ctx, product)
	if err != nil {
		return "", err
	}
	if err := o.prices.Upsert(&models.ProviderPrice{
		Provider:        models.ProviderStripe,
		ProductKey:      product.Key,
		ProviderPriceID: priceID,
		Amount:          product.Price,
		Currency:        product.Currency,
	}); err != nil {
		return "", err
	}
	return priceID, nil
}
