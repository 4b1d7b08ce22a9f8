package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coursepay/coursepay/app/models"
	"github.com/coursepay/coursepay/app/repository"
	"github.com/coursepay/coursepay/internal/pkg/payments"
	"github.com/coursepay/coursepay/internal/pkg/paytoken"
)

// ---- gateway / orchestrator / resolver fakes ----

type ctrlFakeGateway struct {
	handle        *payments.CustomerHandle
	findErr       error
	customerCalls int
}

func (g *ctrlFakeGateway) Provider() models.Provider              { return g.handle.Provider }
func (g *ctrlFakeGateway) Authenticate(ctx context.Context) error { return nil }

func (g *ctrlFakeGateway) FindOrCreateCustomer(ctx context.Context, email string) (*payments.CustomerHandle, error) {
	g.customerCalls++
	if g.findErr != nil {
		return nil, g.findErr
	}
	// Mirrors the real gateways: customer creation yields the customer id
	// only, never a charge credential.
	h := *g.handle
	h.PaymentMethodID = ""
	h.PaymentConsentID = ""
	h.Email = models.NormalizeEmail(email)
	return &h, nil
}

func (g *ctrlFakeGateway) CreateCharge(ctx context.Context, params payments.ChargeParams) (*payments.ChargeResult, error) {
	return nil, payments.ErrProviderUnavailable
}

func (g *ctrlFakeGateway) ConfirmCharge(ctx context.Context, intentID string, params payments.ChargeParams) (*payments.ChargeResult, error) {
	return nil, payments.ErrProviderUnavailable
}

func (g *ctrlFakeGateway) CreateSubscription(ctx context.Context, params payments.ChargeParams) (*payments.ChargeResult, error) {
	return nil, payments.ErrProviderUnavailable
}

type ctrlFakeCharger struct {
	result *payments.ChargeResult
	booked *models.Purchase
	err    error

	calls       int
	lastHandle  *payments.CustomerHandle
	lastUserID  uint
	lastProduct string
	lastUpsell  bool
}

func (f *ctrlFakeCharger) Charge(ctx context.Context, handle *payments.CustomerHandle, userID uint, productKey string, upsell bool) (*payments.ChargeResult, *models.Purchase, error) {
	f.calls++
	f.lastHandle = handle
	f.lastUserID = userID
	f.lastProduct = productKey
	f.lastUpsell = upsell
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.result, f.booked, nil
}

type ctrlFakeResolver struct {
	handle   *payments.CustomerHandle
	methodID string
	err      error

	calls         int
	completeCalls int
	lastTok       *paytoken.Token
	lastEmail     string
}

func (f *ctrlFakeResolver) Resolve(ctx context.Context, tok *paytoken.Token, email string) (*payments.CustomerHandle, error) {
	f.calls++
	f.lastTok = tok
	f.lastEmail = email
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

func (f *ctrlFakeResolver) Complete(ctx context.Context, handle *payments.CustomerHandle) (*payments.CustomerHandle, error) {
	f.completeCalls++
	if f.err != nil {
		return nil, f.err
	}
	if handle == nil || handle.CustomerID == "" {
		return nil, payments.ErrNoPaymentMethod
	}
	if handle.PaymentMethodID == "" && handle.PaymentConsentID == "" {
		handle.PaymentMethodID = f.methodID
	}
	return handle, nil
}

// ---- repository fakes ----

type ctrlUserRepo struct {
	byEmail map[string]*models.User
	nextID  uint
}

func (r *ctrlUserRepo) Create(user *models.User) error {
	if _, ok := r.byEmail[user.Email]; ok {
		return gorm.ErrDuplicatedKey
	}
	r.nextID++
	user.ID = r.nextID
	r.byEmail[user.Email] = user
	return nil
}

func (r *ctrlUserRepo) GetByID(id uint) (*models.User, error) {
	for _, u := range r.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlUserRepo) GetByEmail(email string) (*models.User, error) {
	if u, ok := r.byEmail[email]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlUserRepo) Update(user *models.User) error { return nil }
func (r *ctrlUserRepo) Count() (int64, error)          { return int64(len(r.byEmail)), nil }

type ctrlProductRepo struct{ extra map[string]models.Product }

func (r *ctrlProductRepo) Create(product *models.Product) error { return nil }

func (r *ctrlProductRepo) GetByKey(key string) (*models.Product, error) {
	if p, ok := models.BuiltInProduct(key); ok {
		return &p, nil
	}
	if p, ok := r.extra[key]; ok {
		return &p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlProductRepo) GetActive() ([]models.Product, error) {
	var out []models.Product
	for _, p := range r.extra {
		out = append(out, p)
	}
	return out, nil
}

func (r *ctrlProductRepo) Update(product *models.Product) error { return nil }

type ctrlPurchaseRepo struct {
	rows   []*models.Purchase
	nextID uint
}

func (r *ctrlPurchaseRepo) Create(p *models.Purchase) error {
	r.nextID++
	p.ID = r.nextID
	r.rows = append(r.rows, p)
	return nil
}

func (r *ctrlPurchaseRepo) CreateIfNotExists(p *models.Purchase) (bool, *models.Purchase, error) {
	if p.ProviderTransactionID != nil {
		for _, row := range r.rows {
			if row.Provider == p.Provider && row.ProviderTransactionID != nil && *row.ProviderTransactionID == *p.ProviderTransactionID {
				return false, row, nil
			}
		}
	}
	if err := r.Create(p); err != nil {
		return false, nil, err
	}
	return true, p, nil
}

func (r *ctrlPurchaseRepo) GetByProviderTransactionID(provider models.Provider, transactionID string) (*models.Purchase, error) {
	for _, row := range r.rows {
		if row.Provider == provider && row.ProviderTransactionID != nil && *row.ProviderTransactionID == transactionID {
			return row, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlPurchaseRepo) GetPending(userID uint, productKey string) (*models.Purchase, error) {
	for _, row := range r.rows {
		if row.UserID == userID && row.ProductKey == productKey && row.Status == models.PurchaseStatusPending {
			return row, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlPurchaseRepo) HasCompleted(userID uint, productKey string) (bool, error) {
	for _, row := range r.rows {
		if row.UserID == userID && row.ProductKey == productKey && row.Status == models.PurchaseStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *ctrlPurchaseRepo) ListByUser(userID uint) ([]models.Purchase, error) {
	var out []models.Purchase
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *ctrlPurchaseRepo) ListCompletedKeysByUser(userID uint) ([]string, error) {
	var out []string
	for _, row := range r.rows {
		if row.UserID == userID && row.Status == models.PurchaseStatusCompleted {
			out = append(out, row.ProductKey)
		}
	}
	return out, nil
}

func (r *ctrlPurchaseRepo) Update(p *models.Purchase) error { return nil }

type ctrlEnrollmentRepo struct {
	rows   []*models.Enrollment
	nextID uint
}

func (r *ctrlEnrollmentRepo) GetByUserAndCourse(userID, courseID uint) (*models.Enrollment, error) {
	for _, row := range r.rows {
		if row.UserID == userID && row.CourseID == courseID {
			return row, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlEnrollmentRepo) Create(e *models.Enrollment) error {
	r.nextID++
	e.ID = r.nextID
	r.rows = append(r.rows, e)
	return nil
}

func (r *ctrlEnrollmentRepo) Update(e *models.Enrollment) error { return nil }

func (r *ctrlEnrollmentRepo) ListByUser(userID uint) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	return out, nil
}

type ctrlCustomerRepo struct {
	byEmail map[string]*models.Customer
	nextID  uint
}

func (r *ctrlCustomerRepo) Create(c *models.Customer) error {
	r.nextID++
	c.ID = r.nextID
	r.byEmail[c.Email] = c
	return nil
}

func (r *ctrlCustomerRepo) GetByEmail(email string) (*models.Customer, error) {
	if c, ok := r.byEmail[email]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlCustomerRepo) GetByProviderCustomerID(provider models.Provider, providerCustomerID string) (*models.Customer, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlCustomerRepo) Update(c *models.Customer) error { return nil }

func (r *ctrlCustomerRepo) FindOrCreateByEmail(email string) (*models.Customer, error) {
	if c, ok := r.byEmail[email]; ok {
		return c, nil
	}
	c := &models.Customer{Email: email}
	return c, r.Create(c)
}

type ctrlSessionRepo struct{ rows []*models.Session }

func (r *ctrlSessionRepo) Create(s *models.Session) error {
	s.ID = uint(len(r.rows) + 1)
	r.rows = append(r.rows, s)
	return nil
}

func (r *ctrlSessionRepo) GetActiveByToken(token string) (*models.Session, error) {
	for _, row := range r.rows {
		if row.Token == token {
			return row, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlSessionRepo) Delete(id uint) error { return nil }

// ---- harness ----

type checkoutHarness struct {
	app       *fiber.App
	gateway   *ctrlFakeGateway
	charger   *ctrlFakeCharger
	resolver  *ctrlFakeResolver
	users     *ctrlUserRepo
	purchases *ctrlPurchaseRepo
	enrolls   *ctrlEnrollmentRepo
	customers *ctrlCustomerRepo
	sessions  *ctrlSessionRepo
}

func newCheckoutHarness(t *testing.T) *checkoutHarness {
	t.Helper()

	h := &checkoutHarness{
		gateway: &ctrlFakeGateway{handle: &payments.CustomerHandle{
			Provider:   models.ProviderStripe,
			CustomerID: "cus_100",
		}},
		charger: &ctrlFakeCharger{result: &payments.ChargeResult{
			ID:     "pi_100",
			Amount: 2700,
			Status: "succeeded",
			Kind:   payments.ChargeKindOneTime,
		}},
		resolver:  &ctrlFakeResolver{methodID: "pm_100"},
		users:     &ctrlUserRepo{byEmail: map[string]*models.User{}},
		purchases: &ctrlPurchaseRepo{},
		enrolls:   &ctrlEnrollmentRepo{},
		customers: &ctrlCustomerRepo{byEmail: map[string]*models.Customer{}},
		sessions:  &ctrlSessionRepo{},
	}
	h.resolver.handle = &payments.CustomerHandle{
		Provider:        models.ProviderStripe,
		Email:           "buyer@example.com",
		CustomerID:      "cus_100",
		PaymentMethodID: "pm_100",
	}

	repos := &repository.Repositories{
		Customer:   h.customers,
		User:       h.users,
		Product: &ctrlProductRepo{extra: map[string]models.Product{
			"canva_kit": {Key: "canva_kit", Name: "Canva Kit", Price: 2700, Currency: "usd", Active: true},
		}},
		Purchase:   h.purchases,
		Enrollment: h.enrolls,
		Session:    h.sessions,
	}
	cc := NewCheckoutController(repos, h.resolver, h.charger, map[models.Provider]payments.Gateway{
		models.ProviderStripe: h.gateway,
	})

	h.app = fiber.New()
	h.app.Post("/checkout", cc.HandleCheckout)
	h.app.Post("/upsell", cc.HandleUpsell)
	return h
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	return resp.StatusCode, decoded
}

// ---- tests ----

func TestCheckoutCreatesUserChargesAndIssuesTokens(t *testing.T) {
	h := newCheckoutHarness(t)

	status, body := postJSON(t, h.app, "/checkout", map[string]string{
		"email":    "Buyer@Example.com",
		"name":     "Buyer",
		"provider": "stripe",
	})
	require.Equal(t, fiber.StatusCreated, status)

	assert.Equal(t, "succeeded", body["status"])
	assert.Equal(t, models.ProductKeyMainCourse, body["product_key"])
	assert.Equal(t, "pi_100", body["transaction_id"])
	assert.NotEmpty(t, body["payment_token"])
	assert.NotEmpty(t, body["session_token"])

	// Defaulted to the main course and charged as an initial sale.
	assert.Equal(t, 1, h.charger.calls)
	assert.Equal(t, models.ProductKeyMainCourse, h.charger.lastProduct)
	assert.False(t, h.charger.lastUpsell)

	user, err := h.users.GetByEmail("buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_100", user.ProviderCustomerID)

	// Completed purchase + enrollment were booked by the controller because
	// the orchestrator returned no pre-booked row.
	require.Len(t, h.purchases.rows, 1)
	assert.Equal(t, models.PurchaseStatusCompleted, h.purchases.rows[0].Status)
	require.NotNil(t, h.purchases.rows[0].ProviderTransactionID)
	assert.Equal(t, "pi_100", *h.purchases.rows[0].ProviderTransactionID)
	require.Len(t, h.enrolls.rows, 1)

	// The token round-trips and carries the provider identifiers.
	tok, err := paytoken.Decode(body["payment_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", tok.Email)
	assert.Equal(t, "cus_100", tok.StripeCustomerID)
	assert.Equal(t, "pm_100", tok.PaymentMethodID)

	require.Len(t, h.sessions.rows, 1)
	assert.Equal(t, body["session_token"], h.sessions.rows[0].Token)
}

func TestCheckoutResolvesStoredPaymentMethod(t *testing.T) {
	h := newCheckoutHarness(t)

	// The customer lookup returns no charge credential; the controller must
	// resolve the stored default before charging.
	status, body := postJSON(t, h.app, "/checkout", map[string]string{
		"email":    "buyer@example.com",
		"provider": "stripe",
	})
	require.Equal(t, fiber.StatusCreated, status)

	assert.Equal(t, 1, h.resolver.completeCalls)
	require.NotNil(t, h.charger.lastHandle)
	assert.Equal(t, "pm_100", h.charger.lastHandle.PaymentMethodID)

	tok, err := paytoken.Decode(body["payment_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "pm_100", tok.PaymentMethodID)
}

func TestCheckoutForwardsCollectedPaymentMethod(t *testing.T) {
	h := newCheckoutHarness(t)

	status, _ := postJSON(t, h.app, "/checkout", map[string]string{
		"email":             "buyer@example.com",
		"provider":          "stripe",
		"payment_method_id": "pm_collected",
	})
	require.Equal(t, fiber.StatusCreated, status)

	// The checkout page's credential wins over the stored default.
	require.NotNil(t, h.charger.lastHandle)
	assert.Equal(t, "pm_collected", h.charger.lastHandle.PaymentMethodID)
}

func TestCheckoutBooksPendingWhenChargeProcessing(t *testing.T) {
	h := newCheckoutHarness(t)
	h.charger.result = &payments.ChargeResult{
		ID:     "pi_processing",
		Amount: 2700,
		Status: payments.ChargeStatusPending,
		Kind:   payments.ChargeKindOneTime,
	}

	status, body := postJSON(t, h.app, "/checkout", map[string]string{
		"email":    "buyer@example.com",
		"provider": "stripe",
	})
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, payments.ChargeStatusPending, body["status"])

	// An intent still processing is not a sale yet: the purchase waits for
	// the webhook and no access is granted.
	require.Len(t, h.purchases.rows, 1)
	assert.Equal(t, models.PurchaseStatusPending, h.purchases.rows[0].Status)
	require.NotNil(t, h.purchases.rows[0].ProviderTransactionID)
	assert.Equal(t, "pi_processing", *h.purchases.rows[0].ProviderTransactionID)
	assert.Empty(t, h.enrolls.rows)
}

func TestCheckoutRejectsUnknownProvider(t *testing.T) {
	h := newCheckoutHarness(t)

	status, body := postJSON(t, h.app, "/checkout", map[string]string{
		"email":    "b@example.com",
		"provider": "paypal",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", body["error"])
	assert.Zero(t, h.charger.calls)
}

func TestCheckoutRejectsMissingEmail(t *testing.T) {
	h := newCheckoutHarness(t)

	status, body := postJSON(t, h.app, "/checkout", map[string]string{"provider": "stripe"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", body["error"])
	assert.Zero(t, h.gateway.customerCalls)
}

func TestCheckoutMapsDeclineToPaymentRequired(t *testing.T) {
	h := newCheckoutHarness(t)
	h.charger.err = payments.ErrCardDeclined

	status, body := postJSON(t, h.app, "/checkout", map[string]string{
		"email":    "b@example.com",
		"provider": "stripe",
	})
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "card_declined", body["error"])
	assert.Empty(t, h.purchases.rows, "declined charge must not book a purchase")
}

func TestCheckoutSkipsBookkeepingWhenOrchestratorBooked(t *testing.T) {
	h := newCheckoutHarness(t)
	h.charger.booked = &models.Purchase{ID: 7, Status: models.PurchaseStatusCompleted}

	status, _ := postJSON(t, h.app, "/checkout", map[string]string{
		"email":    "b@example.com",
		"provider": "stripe",
	})
	require.Equal(t, fiber.StatusCreated, status)
	assert.Empty(t, h.purchases.rows, "orchestrator-booked purchases must not be duplicated")
	assert.Len(t, h.enrolls.rows, 1, "enrollment is still the controller's job")
}

func TestUpsellChargesThroughFreshToken(t *testing.T) {
	h := newCheckoutHarness(t)

	tok := paytoken.New(models.ProviderStripe, "buyer@example.com")
	tok.StripeCustomerID = "cus_100"
	tok.PaymentMethodID = "pm_100"
	encoded, err := paytoken.Encode(tok)
	require.NoError(t, err)

	status, body := postJSON(t, h.app, "/upsell", map[string]string{
		"token":       encoded,
		"product_key": "canva_kit",
	})
	require.Equal(t, fiber.StatusOK, status)

	assert.Equal(t, 1, h.resolver.calls)
	require.NotNil(t, h.resolver.lastTok)
	assert.Equal(t, "cus_100", h.resolver.lastTok.StripeCustomerID)

	assert.Equal(t, 1, h.charger.calls)
	assert.Equal(t, "canva_kit", h.charger.lastProduct)
	assert.True(t, h.charger.lastUpsell)

	assert.Equal(t, "canva_kit", body["product_key"])
	assert.NotEmpty(t, body["payment_token"], "upsell re-issues a fresh token")
	assert.Nil(t, body["session_token"])
}

func TestUpsellRejectsMalformedToken(t *testing.T) {
	h := newCheckoutHarness(t)

	status, body := postJSON(t, h.app, "/upsell", map[string]string{
		"token":       "%%%not-base64%%%",
		"product_key": "canva_kit",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_token", body["error"])
	assert.Zero(t, h.resolver.calls)
}

func TestUpsellMapsExpiredTokenToUnauthorized(t *testing.T) {
	h := newCheckoutHarness(t)
	h.resolver.err = payments.ErrTokenExpired

	tok := paytoken.New(models.ProviderStripe, "buyer@example.com")
	encoded, err := paytoken.Encode(tok)
	require.NoError(t, err)

	status, body := postJSON(t, h.app, "/upsell", map[string]string{
		"token":       encoded,
		"product_key": "canva_kit",
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "token_expired", body["error"])
	assert.Zero(t, h.charger.calls)
}

func TestUpsellPassesEmailFallbackToResolver(t *testing.T) {
	h := newCheckoutHarness(t)

	status, _ := postJSON(t, h.app, "/upsell", map[string]string{
		"email":       "Buyer@Example.com",
		"product_key": "canva_kit",
	})
	require.Equal(t, fiber.StatusOK, status)

	assert.Nil(t, h.resolver.lastTok)
	assert.Equal(t, "buyer@example.com", h.resolver.lastEmail)
}

func TestUpsellMapsDuplicateToConflict(t *testing.T) {
	h := newCheckoutHarness(t)
	h.charger.err = payments.ErrAlreadyPurchased

	tok := paytoken.New(models.ProviderStripe, "buyer@example.com")
	encoded, err := paytoken.Encode(tok)
	require.NoError(t, err)

	status, body := postJSON(t, h.app, "/upsell", map[string]string{
		"token":       encoded,
		"product_key": "canva_kit",
	})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "already_purchased", body["error"])
}
