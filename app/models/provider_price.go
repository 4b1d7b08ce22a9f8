package models

import "time"

// ProviderPrice caches the provider-side price object created for a product,
// keyed (provider, product_key), so recurring charges reuse one price object
// instead of creating a new one per subscription.
type ProviderPrice struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        Provider  `gorm:"type:varchar(20);not null;index:ux_provider_prices_product,unique,priority:1" json:"provider"`
	ProductKey      string    `gorm:"type:varchar(100);not null;index:ux_provider_prices_product,unique,priority:2" json:"product_key"`
	ProviderPriceID string    `gorm:"type:varchar(191);not null" json:"provider_price_id"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
