package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/app/repository"
	"github.com/coursepay/coursepay/internal/pkg/metrics/counter"
	"github.com/coursepay/coursepay/internal/pkg/payments"
	"github.com/coursepay/coursepay/internal/pkg/paytoken"
)

const sessionLifetime = 24 * time.Hour

// Charger is the slice of the orchestrator the controllers need.
type Charger interface {
	Charge(ctx context.Context, handle *payments.CustomerHandle, userID uint, productKey string, upsell bool) (*payments.ChargeResult, *models.Purchase, error)
}

// HandleResolver is the slice of the customer resolver the controllers need:
// Resolve rebuilds a handle for the upsell flow, Complete fills the stored
// charge credential on a freshly created checkout handle.
type HandleResolver interface {
	Resolve(ctx context.Context, tok *paytoken.Token, email string) (*payments.CustomerHandle, error)
	Complete(ctx context.Context, handle *payments.CustomerHandle) (*payments.CustomerHandle, error)
}

// CheckoutController drives the initial purchase and the one-click upsell.
type CheckoutController struct {
	repos        *repository.Repositories
	resolver     HandleResolver
	orchestrator Charger
	gateways     map[models.Provider]payments.Gateway
	validate     *validator.Validate
}

// NewCheckoutController wires the controller from injected dependencies.
func NewCheckoutController(repos *repository.Repositories, resolver HandleResolver, orchestrator Charger, gateways map[models.Provider]payments.Gateway) *CheckoutController {
	return &CheckoutController{
		repos:        repos,
		resolver:     resolver,
		orchestrator: orchestrator,
		gateways:     gateways,
		validate:     validator.New(),
	}
}

type checkoutRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"omitempty,max=150"`
	Provider   string `json:"provider" validate:"required"`
	ProductKey string `json:"product_key" validate:"omitempty,max=100"`

	// Credential collected by the checkout page. When absent the stored
	// provider default is resolved instead.
	PaymentMethodID  string `json:"payment_method_id" validate:"omitempty,max=100"`
	PaymentConsentID string `json:"payment_consent_id" validate:"omitempty,max=100"`
}

type upsellRequest struct {
	Token      string `json:"token"`
	Email      string `json:"email" validate:"omitempty,email"`
	ProductKey string `json:"product_key" validate:"required,max=100"`
}

type chargeResponse struct {
	Status        string `json:"status"`
	ProductKey    string `json:"product_key"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
	PaymentToken  string `json:"payment_token"`
	SessionToken  string `json:"session_token,omitempty"`
}

// HandleCheckout performs the initial purchase: provider customer, main
// product charge, purchase + enrollment bookkeeping, then the payment token
// the upsell page charges against.
func (cc *CheckoutController) HandleCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fmt.Errorf("%w: malformed body", payments.ErrInvalidInput))
	}
	if err := cc.validate.Struct(&req); err != nil {
		return errorResponse(c, fmt.Errorf("%w: %v", payments.ErrInvalidInput, err))
	}

	provider, ok := models.ParseProvider(req.Provider)
	if !ok {
		return errorResponse(c, fmt.Errorf("%w: unknown provider %q", payments.ErrInvalidInput, req.Provider))
	}
	gateway, ok := cc.gateways[provider]
	if !ok {
		return errorResponse(c, fmt.Errorf("%w: provider %q does not support direct checkout", payments.ErrInvalidInput, provider))
	}

	productKey := req.ProductKey
	if productKey == "" {
		productKey = models.ProductKeyMainCourse
	}

	ctx := c.UserContext()
	handle, err := gateway.FindOrCreateCustomer(ctx, req.Email)
	if err != nil {
		return errorResponse(c, err)
	}

	// FindOrCreateCustomer yields only the customer id. The charge credential
	// comes from the request when the checkout page collected one, otherwise
	// from the customer's stored provider default.
	switch provider {
	case models.ProviderStripe:
		handle.PaymentMethodID = req.PaymentMethodID
	case models.ProviderAirwallex:
		handle.PaymentConsentID = req.PaymentConsentID
	}
	handle, err = cc.resolver.Complete(ctx, handle)
	if err != nil {
		return errorResponse(c, err)
	}

	user, err := cc.findOrCreateUser(req.Email, req.Name, handle)
	if err != nil {
		return errorResponse(c, err)
	}

	result, err := cc.charge(ctx, handle, user, productKey, false)
	if err != nil {
		return errorResponse(c, err)
	}

	token, err := cc.issueToken(handle)
	if err != nil {
		return errorResponse(c, err)
	}
	sessionToken, err := cc.issueSession(user.ID)
	if err != nil {
		log.Printf("session issue failed for user %d: %v", user.ID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(chargeResponse{
		Status:        result.Status,
		ProductKey:    productKey,
		Amount:        result.Amount,
		Currency:      cc.currencyOf(productKey),
		TransactionID: result.ID,
		PaymentToken:  token,
		SessionToken:  sessionToken,
	})
}

// HandleUpsell performs the one-click follow-on charge against the payment
// token, falling back to the stored customer record when the token is
// missing or expired but an email is supplied.
func (cc *CheckoutController) HandleUpsell(c *fiber.Ctx) error {
	var req upsellRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fmt.Errorf("%w: malformed body", payments.ErrInvalidInput))
	}
	if err := cc.validate.Struct(&req); err != nil {
		return errorResponse(c, fmt.Errorf("%w: %v", payments.ErrInvalidInput, err))
	}

	var tok *paytoken.Token
	if req.Token != "" {
		decoded, err := paytoken.Decode(req.Token)
		if err != nil {
			return errorResponse(c, err)
		}
		tok = decoded
	}

	ctx := c.UserContext()
	handle, err := cc.resolver.Resolve(ctx, tok, models.NormalizeEmail(req.Email))
	if err != nil {
		return errorResponse(c, err)
	}

	user, err := cc.findOrCreateUser(handle.Email, "", handle)
	if err != nil {
		return errorResponse(c, err)
	}

	result, err := cc.charge(ctx, handle, user, req.ProductKey, true)
	if err != nil {
		return errorResponse(c, err)
	}

	token, err := cc.issueToken(handle)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(chargeResponse{
		Status:        result.Status,
		ProductKey:    req.ProductKey,
		Amount:        result.Amount,
		Currency:      cc.currencyOf(req.ProductKey),
		TransactionID: result.ID,
		PaymentToken:  token,
	})
}

func (cc *CheckoutController) currencyOf(productKey string) string {
	if product, err := cc.repos.Product.GetByKey(productKey); err == nil {
		return product.Currency
	}
	return "usd"
}

// charge runs the orchestrator and books the completed purchase, enrollment
// and customer record when the orchestrator left bookkeeping to the caller.
func (cc *CheckoutController) charge(ctx context.Context, handle *payments.CustomerHandle, user *models.User, productKey string, upsell bool) (*payments.ChargeResult, error) {
	if err := counter.AddChargeAttempt(handle.Provider, productKey); err != nil {
		log.Printf("charge attempt counter: %v", err)
	}

	result, booked, err := cc.orchestrator.Charge(ctx, handle, user.ID, productKey, upsell)
	if err != nil {
		if errors.Is(err, payments.ErrCardDeclined) {
			if cerr := counter.AddChargeDeclined(handle.Provider, productKey); cerr != nil {
				log.Printf("charge declined counter: %v", cerr)
			}
		}
		return nil, err
	}

	// A charge that came back processing or awaiting action is booked
	// pending; the webhook reconciler completes it and grants access.
	succeeded := result.Status == payments.ChargeStatusSucceeded
	if succeeded {
		if cerr := counter.AddChargeSuccess(handle.Provider, productKey); cerr != nil {
			log.Printf("charge success counter: %v", cerr)
		}
	}

	if booked == nil {
		if err := cc.bookPurchase(user.ID, handle.Provider, productKey, result, upsell, succeeded); err != nil {
			return nil, err
		}
	}
	if succeeded {
		if err := cc.bookEnrollment(user.ID, productKey); err != nil {
			return nil, err
		}
		if err := cc.bookCustomer(handle, productKey); err != nil {
			log.Printf("customer bookkeeping failed for %s: %v", handle.Email, err)
		}
	}

	return result, nil
}

func (cc *CheckoutController) bookPurchase(userID uint, provider models.Provider, productKey string, result *payments.ChargeResult, upsell, succeeded bool) error {
	product, err := cc.repos.Product.GetByKey(productKey)
	if err != nil {
		return err
	}
	status := models.PurchaseStatusPending
	if succeeded {
		status = models.PurchaseStatusCompleted
	}
	purchase := &models.Purchase{
		UserID:     userID,
		ProductKey: productKey,
		Amount:     product.Price,
		Currency:   product.Currency,
		Status:     status,
		IsUpsell:   upsell,
		Provider:   provider,
	}
	if result.ID != "" {
		txID := result.ID
		purchase.ProviderTransactionID = &txID
	}
	_, _, err = cc.repos.Purchase.CreateIfNotExists(purchase)
	return err
}

func (cc *CheckoutController) bookEnrollment(userID uint, productKey string) error {
	product, err := cc.repos.Product.GetByKey(productKey)
	if err != nil || product.CourseID == 0 {
		return err
	}

	enrollment, err := cc.repos.Enrollment.GetByUserAndCourse(userID, product.CourseID)
	if err == nil {
		if enrollment.Status == models.EnrollmentStatusActive {
			return nil
		}
		enrollment.Status = models.EnrollmentStatusActive
		return cc.repos.Enrollment.Update(enrollment)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return cc.repos.Enrollment.Create(&models.Enrollment{
		UserID:   userID,
		CourseID: product.CourseID,
		Status:   models.EnrollmentStatusActive,
	})
}

func (cc *CheckoutController) bookCustomer(handle *payments.CustomerHandle, productKey string) error {
	customer, err := cc.repos.Customer.FindOrCreateByEmail(handle.Email)
	if err != nil {
		return err
	}
	customer.PaymentProvider = handle.Provider
	switch handle.Provider {
	case models.ProviderStripe:
		customer.StripeCustomerID = handle.CustomerID
	case models.ProviderAirwallex:
		customer.AirwallexCustomerID = handle.CustomerID
		if handle.PaymentConsentID != "" {
			customer.AirwallexPaymentConsentID = handle.PaymentConsentID
		}
	}
	customer.AddPurchasedProduct(productKey)
	return cc.repos.Customer.Update(customer)
}

func (cc *CheckoutController) findOrCreateUser(email, name string, handle *payments.CustomerHandle) (*models.User, error) {
	user, err := cc.repos.User.GetByEmail(email)
	if err == nil {
		if handle.CustomerID != "" && user.ProviderCustomerID != handle.CustomerID {
			user.ProviderCustomerID = handle.CustomerID
			user.PaymentProvider = handle.Provider
			if err := cc.repos.User.Update(user); err != nil {
				return nil, err
			}
		}
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if name == "" {
		name = email
	}
	password, err := models.GenerateBootstrapPassword()
	if err != nil {
		return nil, err
	}
	user, err = models.CreateUser(name, email, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payments.ErrInvalidInput, err)
	}
	user.PaymentProvider = handle.Provider
	user.ProviderCustomerID = handle.CustomerID
	if err := cc.repos.User.Create(user); err != nil {
		if existing, lookupErr := cc.repos.User.GetByEmail(email); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return user, nil
}

func (cc *CheckoutController) issueToken(handle *payments.CustomerHandle) (string, error) {
	tok := paytoken.New(handle.Provider, handle.Email)
	switch handle.Provider {
	case models.ProviderStripe:
		tok.StripeCustomerID = handle.CustomerID
		tok.PaymentMethodID = handle.PaymentMethodID
	case models.ProviderAirwallex:
		tok.AirwallexCustomerID = handle.CustomerID
		tok.PaymentConsentID = handle.PaymentConsentID
	}
	return paytoken.Encode(tok)
}

func (cc *CheckoutController) issueSession(userID uint) (string, error) {
	token := uuid.NewString()
	err := cc.repos.Session.Create(&models.Session{
		UserID:    userID,
		Token:     token,
		ExpiresAt: time.Now().Add(sessionLifetime),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}
