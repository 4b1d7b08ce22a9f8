package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

// StripeClient implements Gateway for the payment-method provider variant.
// One-time charges are a single create-with-off-session-confirm call;
// recurring charges bind a price object to the stored payment method.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewStripeClientFromEnv builds a Stripe client from environment config.
func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *StripeClient) Provider() models.Provider {
	return models.ProviderStripe
}

// Authenticate verifies the API key against the account endpoint. Stripe has
// no separate session token; the key itself is the credential.
func (c *StripeClient) Authenticate(ctx context.Context) error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("%w: STRIPE_SECRET_KEY is not configured", ErrInvalidInput)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/account", nil, "", &out); err != nil {
		return err
	}
	if strings.TrimSpace(out.ID) == "" {
		return fmt.Errorf("%w: account lookup returned no id", ErrProviderUnavailable)
	}
	return nil
}

type stripeCustomer struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	InvoiceSettings struct {
		DefaultPaymentMethod json.RawMessage `json:"default_payment_method"`
	} `json:"invoice_settings"`
}

// FindOrCreateCustomer matches an existing customer by email or creates one.
func (c *StripeClient) FindOrCreateCustomer(ctx context.Context, email string) (*CustomerHandle, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	q := url.Values{}
	q.Set("email", normalized)
	q.Set("limit", "1")
	var list struct {
		Data []stripeCustomer `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/customers?"+q.Encode(), nil, "", &list); err != nil {
		return nil, err
	}
	if len(list.Data) > 0 {
		return &CustomerHandle{
			Provider:   models.ProviderStripe,
			Email:      normalized,
			CustomerID: list.Data[0].ID,
		}, nil
	}

	form := url.Values{}
	form.Set("email", normalized)
	var created stripeCustomer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", form, "", &created); err != nil {
		return nil, err
	}
	return &CustomerHandle{
		Provider:   models.ProviderStripe,
		Email:      normalized,
		CustomerID: created.ID,
	}, nil
}

// DefaultPaymentMethod returns the customer's default payment method, falling
// back to the most recently attached card when no default is set.
func (c *StripeClient) DefaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	var cust stripeCustomer
	if err := c.do(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID), nil, "", &cust); err != nil {
		return "", err
	}
	if pm := decodePaymentMethodRef(cust.InvoiceSettings.DefaultPaymentMethod); pm != "" {
		return pm, nil
	}

	q := url.Values{}
	q.Set("customer", customerID)
	q.Set("type", "card")
	q.Set("limit", "1")
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/payment_methods?"+q.Encode(), nil, "", &list); err != nil {
		return "", err
	}
	if len(list.Data) == 0 {
		return "", ErrNoPaymentMethod
	}
	return list.Data[0].ID, nil
}

// decodePaymentMethodRef handles default_payment_method arriving either as a
// bare id string or as an expanded object.
func decodePaymentMethodRef(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

type stripePaymentIntent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
	Currency string `json:"currency"`
}

// CreateCharge creates and confirms an off-session payment intent in one call.
func (c *StripeClient) CreateCharge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	if params.Handle.CustomerID == "" || params.Handle.PaymentMethodID == "" {
		return nil, ErrNoPaymentMethod
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Product.Price, 10))
	form.Set("currency", params.Product.Currency)
	form.Set("customer", params.Handle.CustomerID)
	form.Set("payment_method", params.Handle.PaymentMethodID)
	form.Set("off_session", "true")
	form.Set("confirm", "true")
	form.Set("description", params.Product.Name)
	form.Set("metadata[product_key]", params.Product.Key)
	if params.Upsell {
		form.Set("metadata[source]", "one_click_upsell")
	}

	var pi stripePaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, params.IdempotencyKey, &pi); err != nil {
		return nil, err
	}
	return &ChargeResult{
		ID:     pi.ID,
		Amount: pi.Amount,
		Status: normalizeStripeIntentStatus(pi.Status),
		Kind:   ChargeKindOneTime,
	}, nil
}

// ConfirmCharge confirms a previously created payment intent.
func (c *StripeClient) ConfirmCharge(ctx context.Context, intentID string, params ChargeParams) (*ChargeResult, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, fmt.Errorf("%w: intent id is required", ErrInvalidInput)
	}

	form := url.Values{}
	if params.Handle.PaymentMethodID != "" {
		form.Set("payment_method", params.Handle.PaymentMethodID)
	}
	form.Set("off_session", "true")

	var pi stripePaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(intentID) + "/confirm"
	if err := c.do(ctx, http.MethodPost, path, form, params.IdempotencyKey, &pi); err != nil {
		return nil, err
	}
	return &ChargeResult{
		ID:     pi.ID,
		Amount: pi.Amount,
		Status: normalizeStripeIntentStatus(pi.Status),
		Kind:   ChargeKindOneTime,
	}, nil
}

// CreatePrice creates a recurring price object for a product. Callers should
// reuse prices through the registry instead of calling this per charge.
func (c *StripeClient) CreatePrice(ctx context.Context, product models.Product) (string, error) {
	form := url.Values{}
	form.Set("unit_amount", strconv.FormatInt(product.Price, 10))
	form.Set("currency", product.Currency)
	form.Set("recurring[interval]", "month")
	form.Set("product_data[name]", product.Name)
	form.Set("metadata[product_key]", product.Key)

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/prices", form, "", &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateSubscription binds a cached price to the customer's stored payment
// method. The price id must come from the registry (see Orchestrator).
func (c *StripeClient) CreateSubscription(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	return nil, fmt.Errorf("%w: stripe subscriptions need a registered price, use CreateSubscriptionWithPrice", ErrInvalidInput)
}

// CreateSubscriptionWithPrice creates the subscription against a price id.
func (c *StripeClient) CreateSubscriptionWithPrice(ctx context.Context, params ChargeParams, priceID string) (*ChargeResult, error) {
	if params.Handle.CustomerID == "" || params.Handle.PaymentMethodID == "" {
		return nil, ErrNoPaymentMethod
	}
	if strings.TrimSpace(priceID) == "" {
		return nil, fmt.Errorf("%w: price id is required", ErrInvalidInput)
	}

	form := url.Values{}
	form.Set("customer", params.Handle.CustomerID)
	form.Set("items[0][price]", priceID)
	form.Set("default_payment_method", params.Handle.PaymentMethodID)
	form.Set("metadata[product_key]", params.Product.Key)
	if params.Upsell {
		form.Set("metadata[source]", "one_click_upsell")
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", form, params.IdempotencyKey, &out); err != nil {
		return nil, err
	}
	return &ChargeResult{
		ID:     out.ID,
		Amount: params.Product.Price,
		Status: normalizeStripeSubscriptionStatus(out.Status),
		Kind:   ChargeKindSubscription,
	}, nil
}

func normalizeStripeIntentStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded":
		return ChargeStatusSucceeded
	case "requires_confirmation", "requires_action":
		return ChargeStatusRequiresConfirmation
	case "processing":
		return ChargeStatusPending
	default:
		return ChargeStatusFailed
	}
}

func normalizeStripeSubscriptionStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return ChargeStatusSucceeded
	case "incomplete":
		return ChargeStatusPending
	default:
		return ChargeStatusFailed
	}
}

type stripeAPIError struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

// do executes one form-encoded API call and translates failures into the
// package error taxonomy.
func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Timeouts are ambiguous: the charge may have gone through. Surface
		// as retryable so the caller reuses the same idempotency key.
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.Unmarshal(raw, out)
	}

	var apiErr stripeAPIError
	_ = json.Unmarshal(raw, &apiErr)
	return translateStripeError(resp.StatusCode, apiErr)
}

func translateStripeError(status int, apiErr stripeAPIError) error {
	switch {
	case status >= 500:
		return fmt.Errorf("%w: stripe responded %d", ErrProviderUnavailable, status)
	case apiErr.Error.Type == "card_error" || apiErr.Error.Code == "card_declined":
		return fmt.Errorf("%w: %s", ErrCardDeclined, apiErr.Error.DeclineCode)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Error.Message)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited", ErrProviderUnavailable)
	default:
		return fmt.Errorf("%w: stripe status=%d code=%s", ErrInvalidInput, status, apiErr.Error.Code)
	}
}

var _ Gateway = (*StripeClient)(nil)
