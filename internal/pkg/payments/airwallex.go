package payments

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/internal/pkg/env"
	"github.com/google/uuid"
)

const defaultAirwallexAPIBaseURL = "https://api.airwallex.com"

// bearer tokens from the login endpoint are valid for ~30 minutes; refresh a
// little early to avoid racing the expiry.
const airwallexTokenLifetime = 25 * time.Minute

// AirwallexClient implements Gateway for the payment-consent provider
// variant. Customers are matched by a deterministic merchant customer id
// derived from the normalized email; one-time charges are a two-step
// create-then-confirm using a stored payment consent. There is no native
// recurring primitive here: recurring products are charged as repeated
// one-time charges driven by external scheduling.
type AirwallexClient struct {
	ClientID   string
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client

	mu             sync.Mutex
	bearerToken    string
	tokenExpiresAt time.Time
}

// NewAirwallexClientFromEnv builds an Airwallex client from environment config.
func NewAirwallexClientFromEnv() *AirwallexClient {
	return &AirwallexClient{
		ClientID:   strings.TrimSpace(env.GetEnv("AIRWALLEX_CLIENT_ID", "")),
		APIKey:     strings.TrimSpace(env.GetEnv("AIRWALLEX_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("AIRWALLEX_API_BASE_URL", defaultAirwallexAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *AirwallexClient) Provider() models.Provider {
	return models.ProviderAirwallex
}

// Authenticate logs in with client-id/api-key and caches the bearer token.
func (c *AirwallexClient) Authenticate(ctx context.Context) error {
	_, err := c.token(ctx)
	return err
}

func (c *AirwallexClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && time.Now().Before(c.tokenExpiresAt) {
		return c.bearerToken, nil
	}
	if c.ClientID == "" || c.APIKey == "" {
		return "", fmt.Errorf("%w: AIRWALLEX_CLIENT_ID/AIRWALLEX_API_KEY are not configured", ErrInvalidInput)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/api/v1/authentication/login", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("x-client-id", c.ClientID)
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: airwallex login responded %d", ErrProviderUnavailable, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: airwallex login status=%d", ErrInvalidInput, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", fmt.Errorf("%w: airwallex login returned empty token", ErrProviderUnavailable)
	}

	c.bearerToken = out.Token
	c.tokenExpiresAt = time.Now().Add(airwallexTokenLifetime)
	return c.bearerToken, nil
}

// MerchantCustomerID derives the deterministic merchant-side customer id from
// a normalized email, so repeated lookups always match the same customer.
func MerchantCustomerID(email string) string {
	sum := sha256.Sum256([]byte(models.NormalizeEmail(email)))
	return hex.EncodeToString(sum[:16])
}

type airwallexCustomer struct {
	ID                 string `json:"id"`
	MerchantCustomerID string `json:"merchant_customer_id"`
	Email              string `json:"email"`
}

// FindOrCreateCustomer matches by merchant customer id or creates a customer.
func (c *AirwallexClient) FindOrCreateCustomer(ctx context.Context, email string) (*CustomerHandle, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	merchantID := MerchantCustomerID(normalized)

	q := url.Values{}
	q.Set("merchant_customer_id", merchantID)
	var list struct {
		Items []airwallexCustomer `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/pa/customers?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	if len(list.Items) > 0 {
		return &CustomerHandle{
			Provider:   models.ProviderAirwallex,
			Email:      normalized,
			CustomerID: list.Items[0].ID,
		}, nil
	}

	payload := map[string]interface{}{
		"request_id":           uuid.NewString(),
		"merchant_customer_id": merchantID,
		"email":                normalized,
	}
	var created airwallexCustomer
	if err := c.do(ctx, http.MethodPost, "/api/v1/pa/customers", payload, &created); err != nil {
		return nil, err
	}
	return &CustomerHandle{
		Provider:   models.ProviderAirwallex,
		Email:      normalized,
		CustomerID: created.ID,
	}, nil
}

// LatestPaymentConsent returns the most recent verified consent for a
// customer, used when the persisted consent id is missing.
func (c *AirwallexClient) LatestPaymentConsent(ctx context.Context, customerID string) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	q := url.Values{}
	q.Set("customer_id", customerID)
	q.Set("status", "VERIFIED")
	var list struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/pa/payment_consents?"+q.Encode(), nil, &list); err != nil {
		return "", err
	}
	if len(list.Items) == 0 {
		return "", ErrNoPaymentMethod
	}
	return list.Items[0].ID, nil
}

type airwallexPaymentIntent struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Status   string  `json:"status"`
}

// CreateCharge creates a payment intent. The intent still needs confirmation
// against the stored payment consent (see ConfirmCharge).
func (c *AirwallexClient) CreateCharge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	if params.Handle.CustomerID == "" {
		return nil, ErrNoPaymentMethod
	}

	payload := map[string]interface{}{
		"request_id":        params.IdempotencyKey,
		"amount":            minorToMajorUnits(params.Product.Price),
		"currency":          strings.ToUpper(params.Product.Currency),
		"customer_id":       params.Handle.CustomerID,
		"merchant_order_id": params.IdempotencyKey,
		"descriptor":        params.Product.Name,
		"metadata": map[string]string{
			"product_key": params.Product.Key,
			"source":      chargeSource(params.Upsell),
		},
	}
	var pi airwallexPaymentIntent
	if err := c.do(ctx, http.MethodPost, "/api/v1/pa/payment_intents/create", payload, &pi); err != nil {
		return nil, err
	}
	return &ChargeResult{
		ID:     pi.ID,
		Amount: majorToMinorUnits(pi.Amount),
		Status: normalizeAirwallexIntentStatus(pi.Status),
		Kind:   ChargeKindOneTime,
	}, nil
}

// ConfirmCharge confirms a created intent using the stored payment consent.
func (c *AirwallexClient) ConfirmCharge(ctx context.Context, intentID string, params ChargeParams) (*ChargeResult, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, fmt.Errorf("%w: intent id is required", ErrInvalidInput)
	}
	if params.Handle.PaymentConsentID == "" {
		return nil, ErrNoPaymentMethod
	}

	payload := map[string]interface{}{
		"request_id": params.IdempotencyKey + ":confirm",
		"payment_consent_reference": map[string]string{
			"id": params.Handle.PaymentConsentID,
		},
	}
	var pi airwallexPaymentIntent
	path := "/api/v1/pa/payment_intents/" + url.PathEscape(intentID) + "/confirm"
	if err := c.do(ctx, http.MethodPost, path, payload, &pi); err != nil {
		return nil, err
	}
	return &ChargeResult{
		ID:     pi.ID,
		Amount: majorToMinorUnits(pi.Amount),
		Status: normalizeAirwallexIntentStatus(pi.Status),
		Kind:   ChargeKindOneTime,
	}, nil
}

// CreateSubscription charges the consent once and tags the result as a
// subscription; the recurring cadence is driven by external scheduling.
func (c *AirwallexClient) CreateSubscription(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	created, err := c.CreateCharge(ctx, params)
	if err != nil {
		return nil, err
	}
	confirmed, err := c.ConfirmCharge(ctx, created.ID, params)
	if err != nil {
		return nil, err
	}
	confirmed.Kind = ChargeKindSubscription
	return confirmed, nil
}

func chargeSource(upsell bool) string {
	if upsell {
		return "one_click_upsell"
	}
	return "checkout"
}

func minorToMajorUnits(amount int64) float64 {
	return float64(amount) / 100
}

func majorToMinorUnits(amount float64) int64 {
	return int64(amount*100 + 0.5)
}

func normalizeAirwallexIntentStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCEEDED":
		return ChargeStatusSucceeded
	case "REQUIRES_PAYMENT_METHOD", "REQUIRES_CUSTOMER_ACTION":
		return ChargeStatusRequiresConfirmation
	case "PENDING":
		return ChargeStatusPending
	default:
		return ChargeStatusFailed
	}
}

type airwallexAPIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do executes one JSON API call with a fresh-enough bearer token and
// translates failures into the package error taxonomy.
func (c *AirwallexClient) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
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

	var apiErr airwallexAPIError
	_ = json.Unmarshal(raw, &apiErr)
	return translateAirwallexError(resp.StatusCode, apiErr)
}

func translateAirwallexError(status int, apiErr airwallexAPIError) error {
	code := strings.ToLower(apiErr.Code)
	switch {
	case status >= 500:
		return fmt.Errorf("%w: airwallex responded %d", ErrProviderUnavailable, status)
	case strings.Contains(code, "declined") || strings.Contains(code, "insufficient"):
		return fmt.Errorf("%w: %s", ErrCardDeclined, apiErr.Code)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited", ErrProviderUnavailable)
	default:
		return fmt.Errorf("%w: airwallex status=%d code=%s", ErrInvalidInput, status, apiErr.Code)
	}
}

var _ Gateway = (*AirwallexClient)(nil)
