package repository

import (
	"github.com/coursepay/coursepay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// purchaseRepository implements the PurchaseRepository interface
type purchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository creates a new purchase repository instance
func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

// Create creates a new purchase row
func (r *purchaseRepository) Create(purchase *models.Purchase) error {
	return r.db.Create(purchase).Error
}

// CreateIfNotExists inserts a purchase unless a row with the same
// (provider, provider_transaction_id) already exists. Returns whether the row
// was newly created plus the stored row, so redelivered webhooks converge.
func (r *purchaseRepository) CreateIfNotExists(purchase *models.Purchase) (bool, *models.Purchase, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_transaction_id"},
		},
		DoNothing: true,
	}).Create(purchase)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	if purchase.ProviderTransactionID == nil {
		// No conflict target without a transaction id; the insert happened.
		return created, purchase, nil
	}

	var stored models.Purchase
	if err := r.db.Where("provider = ? AND provider_transaction_id = ?",
		purchase.Provider, *purchase.ProviderTransactionID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// GetByProviderTransactionID retrieves a purchase by its provider reference
func (r *purchaseRepository) GetByProviderTransactionID(provider models.Provider, transactionID string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.Where("provider = ? AND provider_transaction_id = ?", provider, transactionID).
		First(&purchase).Error
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// GetPending retrieves the most recent pending purchase for (user, product)
func (r *purchaseRepository) GetPending(userID uint, productKey string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.Where("user_id = ? AND product_key = ? AND status = ?",
		userID, productKey, models.PurchaseStatusPending).
		Order("id DESC").First(&purchase).Error
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// HasCompleted reports whether the user already holds a completed purchase
// for the product key
func (r *purchaseRepository) HasCompleted(userID uint, productKey string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Purchase{}).
		Where("user_id = ? AND product_key = ? AND status = ?",
			userID, productKey, models.PurchaseStatusCompleted).
		Count(&count).Error
	return count > 0, err
}

// ListByUser retrieves all purchases for a user, newest first
func (r *purchaseRepository) ListByUser(userID uint) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := r.db.Where("user_id = ?", userID).Order("id DESC").Find(&purchases).Error
	return purchases, err
}

// ListCompletedKeysByUser returns the distinct completed product keys for a user
func (r *purchaseRepository) ListCompletedKeysByUser(userID uint) ([]string, error) {
	var keys []string
	err := r.db.Model(&models.Purchase{}).
		Where("user_id = ? AND status = ?", userID, models.PurchaseStatusCompleted).
		Distinct().Pluck("product_key", &keys).Error
	return keys, err
}

// Update updates an existing purchase row
func (r *purchaseRepository) Update(purchase *models.Purchase) error {
	return r.db.Save(purchase).Error
}
