package repository

import (
	"github.com/coursepay/coursepay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// priceRepository implements the PriceRepository interface
type priceRepository struct {
	db *gorm.DB
}

// NewPriceRepository creates a new provider price repository instance
func NewPriceRepository(db *gorm.DB) PriceRepository {
	return &priceRepository{db: db}
}

// GetByProduct retrieves the cached price object for (provider, product_key)
func (r *priceRepository) GetByProduct(provider models.Provider, productKey string) (*models.ProviderPrice, error) {
	var price models.ProviderPrice
	err := r.db.Where("provider = ? AND product_key = ?", provider, productKey).First(&price).Error
	if err != nil {
		return nil, err
	}
	return &price, nil
}

// Upsert stores the price object, replacing a stale entry for the same
// (provider, product_key) pair
func (r *priceRepository) Upsert(price *models.ProviderPrice) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "product_key"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_price_id",
			"amount",
			"currency",
			"updated_at",
		}),
	}).Create(price).Error; err != nil {
		return err
	}

	return r.db.Where("provider = ? AND product_key = ?", price.Provider, price.ProductKey).
		First(price).Error
}
