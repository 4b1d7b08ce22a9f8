package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coursepay/coursepay/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAirwallexTestClient(server *httptest.Server) *AirwallexClient {
	return &AirwallexClient{
		ClientID:   "client-id",
		APIKey:     "api-key",
		APIBaseURL: server.URL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestAirwallexTokenIsCachedAcrossCalls(t *testing.T) {
	var logins int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/authentication/login":
			atomic.AddInt64(&logins, 1)
			assert.Equal(t, "client-id", r.Header.Get("x-client-id"))
			assert.Equal(t, "api-key", r.Header.Get("x-api-key"))
			w.Write([]byte(`{"token":"bearer-1"}`))
		case "/api/v1/pa/customers":
			assert.Equal(t, "Bearer bearer-1", r.Header.Get("Authorization"))
			w.Write([]byte(`{"items":[{"id":"awx_cus_1"}]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newAirwallexTestClient(server)
	for i := 0; i < 3; i++ {
		_, err := client.FindOrCreateCustomer(context.Background(), "buyer@example.com")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&logins))
}

func TestMerchantCustomerIDIsDeterministic(t *testing.T) {
	a := MerchantCustomerID("Buyer@Example.COM ")
	b := MerchantCustomerID("buyer@example.com")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, MerchantCustomerID("other@example.com"))
}

func TestAirwallexFindOrCreateCustomerCreatesWhenMissing(t *testing.T) {
	merchantID := MerchantCustomerID("new@example.com")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/authentication/login":
			w.Write([]byte(`{"token":"bearer-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/pa/customers":
			assert.Equal(t, merchantID, r.URL.Query().Get("merchant_customer_id"))
			w.Write([]byte(`{"items":[]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/pa/customers":
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, merchantID, payload["merchant_customer_id"])
			assert.NotEmpty(t, payload["request_id"])
			w.Write([]byte(`{"id":"awx_cus_new"}`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	handle, err := newAirwallexTestClient(server).FindOrCreateCustomer(context.Background(), "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderAirwallex, handle.Provider)
	assert.Equal(t, "awx_cus_new", handle.CustomerID)
}

func TestAirwallexCreateAndConfirmCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/authentication/login":
			w.Write([]byte(`{"token":"bearer-1"}`))
		case "/api/v1/pa/payment_intents/create":
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "idem-1", payload["request_id"])
			assert.Equal(t, 27.0, payload["amount"])
			assert.Equal(t, "USD", payload["currency"])
			w.Write([]byte(`{"id":"int_1","amount":27.00,"currency":"USD","status":"REQUIRES_PAYMENT_METHOD"}`))
		case "/api/v1/pa/payment_intents/int_1/confirm":
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "idem-1:confirm", payload["request_id"])
			ref := payload["payment_consent_reference"].(map[string]interface{})
			assert.Equal(t, "cst_1", ref["id"])
			w.Write([]byte(`{"id":"int_1","amount":27.00,"currency":"USD","status":"SUCCEEDED"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newAirwallexTestClient(server)
	params := ChargeParams{
		Handle: CustomerHandle{
			Provider:         models.ProviderAirwallex,
			CustomerID:       "awx_cus_1",
			PaymentConsentID: "cst_1",
		},
		Product:        models.MainCourseProduct(),
		IdempotencyKey: "idem-1",
	}

	created, err := client.CreateCharge(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, ChargeStatusRequiresConfirmation, created.Status)

	confirmed, err := client.ConfirmCharge(context.Background(), created.ID, params)
	require.NoError(t, err)
	assert.Equal(t, ChargeStatusSucceeded, confirmed.Status)
	assert.Equal(t, int64(2700), confirmed.Amount)
}

func TestAirwallexErrorTranslation(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"declined", 400, `{"code":"payment_declined","message":"card declined"}`, ErrCardDeclined},
		{"insufficient funds", 400, `{"code":"insufficient_funds"}`, ErrCardDeclined},
		{"server error", 502, `{}`, ErrProviderUnavailable},
		{"not found", 404, `{"message":"intent missing"}`, ErrNotFound},
		{"bad request", 400, `{"code":"validation_error"}`, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/api/v1/authentication/login" {
					w.Write([]byte(`{"token":"bearer-1"}`))
					return
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newAirwallexTestClient(server).CreateCharge(context.Background(), ChargeParams{
				Handle:  CustomerHandle{Provider: models.ProviderAirwallex, CustomerID: "awx_cus_1", PaymentConsentID: "cst_1"},
				Product: models.MainCourseProduct(),
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
