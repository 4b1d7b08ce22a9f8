package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		raw  string
		want Provider
		ok   bool
	}{
		{"stripe", ProviderStripe, true},
		{" Stripe ", ProviderStripe, true},
		{"AIRWALLEX", ProviderAirwallex, true},
		{"copecart", ProviderCopeCart, true},
		{"paypal", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseProvider(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw=%q", tt.raw)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "buyer@example.com", NormalizeEmail("  Buyer@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestAddPurchasedProductDeduplicates(t *testing.T) {
	c := &Customer{Email: "buyer@example.com"}

	assert.True(t, c.AddPurchasedProduct("main_course"))
	assert.True(t, c.AddPurchasedProduct("fb_ads"))
	assert.False(t, c.AddPurchasedProduct("main_course"), "redelivery must not duplicate")
	assert.False(t, c.AddPurchasedProduct(""))

	assert.Equal(t, []string{"main_course", "fb_ads"}, c.ProductsPurchased)
	assert.True(t, c.HasPurchased("fb_ads"))
	assert.False(t, c.HasPurchased("canva_kit"))
}

func TestPurchaseCompleteIsOneWay(t *testing.T) {
	p := &Purchase{Status: PurchaseStatusPending}
	require.False(t, p.IsCompleted())

	p.Complete("txn_1")
	assert.True(t, p.IsCompleted())
	require.NotNil(t, p.ProviderTransactionID)
	assert.Equal(t, "txn_1", *p.ProviderTransactionID)

	// completing again with a different id must not regress the record
	p.Complete("txn_other")
	assert.Equal(t, "txn_1", *p.ProviderTransactionID)
}

func TestBuiltInProducts(t *testing.T) {
	main, ok := BuiltInProduct(ProductKeyMainCourse)
	require.True(t, ok)
	assert.Equal(t, int64(2700), main.Price)
	assert.Equal(t, uint(1), main.CourseID)
	assert.True(t, main.Active)

	exit, ok := BuiltInProduct(ProductKeyExitOffer)
	require.True(t, ok)
	assert.Equal(t, int64(1700), exit.Price)

	_, ok = BuiltInProduct("fb_ads")
	assert.False(t, ok, "add-ons live in the table, not in code")
}

func TestAddOnKeys(t *testing.T) {
	keys := AddOnKeys()
	assert.Equal(t, []string{"agency_pack", "canva_kit", "fb_ads", "membership"}, keys)
	assert.True(t, IsAddOnKey("canva_kit"))
	assert.False(t, IsAddOnKey("main_course"))
}

func TestCreateUserValidatesAndHashes(t *testing.T) {
	u, err := CreateUser("Buyer", " Buyer@Example.COM ", "secret-pass")
	require.NoError(t, err)

	assert.Equal(t, "buyer@example.com", u.Email)
	assert.NotEqual(t, "secret-pass", u.Password)
	assert.True(t, u.CheckPassword("secret-pass"))
	assert.False(t, u.CheckPassword("wrong"))
	assert.Equal(t, ROLE_MEMBER, u.Role)
	assert.True(t, u.IsActive())

	_, err = CreateUser("Buyer", "not-an-email", "secret-pass")
	assert.Error(t, err)

	_, err = CreateUser("Buyer", "buyer@example.com", "short")
	assert.Error(t, err)
}

func TestGenerateBootstrapPassword(t *testing.T) {
	a, err := GenerateBootstrapPassword()
	require.NoError(t, err)
	b, err := GenerateBootstrapPassword()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
