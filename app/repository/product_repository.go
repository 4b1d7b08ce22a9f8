package repository

import (
	"github.com/coursepay/coursepay/app/models"
	"gorm.io/gorm"
)

// productRepository implements the ProductRepository interface
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository instance
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// Create creates a new product in the database
func (r *productRepository) Create(product *models.Product) error {
	return r.db.Create(product).Error
}

// GetByKey resolves a product key against the hybrid catalog: built-in code
// products first, then the products table.
func (r *productRepository) GetByKey(key string) (*models.Product, error) {
	if built, ok := models.BuiltInProduct(key); ok {
		return &built, nil
	}
	var product models.Product
	err := r.db.Where("`key` = ?", key).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetActive lists the purchasable catalog: built-in products plus active rows.
func (r *productRepository) GetActive() ([]models.Product, error) {
	var rows []models.Product
	if err := r.db.Where("active = ?", true).Order("`key` ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	products := []models.Product{models.MainCourseProduct(), models.ExitOfferProduct()}
	return append(products, rows...), nil
}

// Update updates an existing product in the database
func (r *productRepository) Update(product *models.Product) error {
	return r.db.Save(product).Error
}
