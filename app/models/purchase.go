package models

import "time"

const (
	PurchaseStatusPending   = "pending"
	PurchaseStatusCompleted = "completed"
)

// Purchase links a User to a Product. Rows are created with status pending
// before provider confirmation (subscription/consent flows) or directly as
// completed (direct charges confirmed synchronously). The status transition
// is one-directional: pending -> completed.
//
// The unique (provider, provider_transaction_id) index is the idempotency
// backstop for retried webhook deliveries and retried client calls. Pending
// rows keep a NULL transaction id until the provider reference is known.
type Purchase struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	UserID                uint      `gorm:"not null;index" json:"user_id"`
	ProductKey            string    `gorm:"type:varchar(100);not null;index" json:"product_key"`
	Amount                int64     `gorm:"not null" json:"amount"`
	Currency              string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status                string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	IsUpsell              bool      `gorm:"default:false" json:"is_upsell"`
	Provider              Provider  `gorm:"type:varchar(20);not null;index:ux_purchases_provider_txn,unique,priority:1" json:"provider"`
	ProviderTransactionID *string   `gorm:"type:varchar(191);index:ux_purchases_provider_txn,unique,priority:2" json:"provider_transaction_id,omitempty"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Complete marks the purchase as completed and records the provider
// transaction reference. Completed purchases are never reopened.
func (p *Purchase) Complete(transactionID string) {
	if p.Status == PurchaseStatusCompleted {
		return
	}
	p.Status = PurchaseStatusCompleted
	if transactionID != "" {
		p.ProviderTransactionID = &transactionID
	}
}

// IsCompleted reports whether the purchase reached its terminal status.
func (p *Purchase) IsCompleted() bool {
	return p.Status == PurchaseStatusCompleted
}
