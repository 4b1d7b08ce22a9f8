package repository

import (
	"errors"

	"github.com/coursepay/coursepay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// customerRepository implements the CustomerRepository interface
type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository creates a new customer repository instance
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// Create creates a new customer in the database
func (r *customerRepository) Create(customer *models.Customer) error {
	customer.Email = models.NormalizeEmail(customer.Email)
	return r.db.Create(customer).Error
}

// GetByEmail retrieves a customer by normalized email
func (r *customerRepository) GetByEmail(email string) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.Where("email = ?", models.NormalizeEmail(email)).First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetByProviderCustomerID resolves a provider-side customer id to the local record
func (r *customerRepository) GetByProviderCustomerID(provider models.Provider, providerCustomerID string) (*models.Customer, error) {
	var customer models.Customer
	var err error
	switch provider {
	case models.ProviderStripe:
		err = r.db.Where("stripe_customer_id = ?", providerCustomerID).First(&customer).Error
	case models.ProviderAirwallex:
		err = r.db.Where("airwallex_customer_id = ?", providerCustomerID).First(&customer).Error
	default:
		return nil, gorm.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// Update updates an existing customer in the database
func (r *customerRepository) Update(customer *models.Customer) error {
	return r.db.Save(customer).Error
}

// FindOrCreateByEmail returns the customer for the email, creating an empty
// record on first contact. The unique email index makes concurrent creates
// converge on one row.
func (r *customerRepository) FindOrCreateByEmail(email string) (*models.Customer, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, errors.New("email is required")
	}

	customer := &models.Customer{Email: normalized}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(customer).Error; err != nil {
		return nil, err
	}

	var stored models.Customer
	if err := r.db.Where("email = ?", normalized).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}
