package repository

import (
	"github.com/coursepay/coursepay/app/models"
	"gorm.io/gorm"
)

// CustomerRepository defines the interface for payment-customer operations
type CustomerRepository interface {
	Create(customer *models.Customer) error
	GetByEmail(email string) (*models.Customer, error)
	GetByProviderCustomerID(provider models.Provider, providerCustomerID string) (*models.Customer, error)
	Update(customer *models.Customer) error
	FindOrCreateByEmail(email string) (*models.Customer, error)
}

// UserRepository defines the interface for portal-user operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	Count() (int64, error)
}

// ProductRepository defines the interface for catalog operations. Lookups
// cover the hybrid catalog: built-in code products first, then table rows.
type ProductRepository interface {
	Create(product *models.Product) error
	GetByKey(key string) (*models.Product, error)
	GetActive() ([]models.Product, error)
	Update(product *models.Product) error
}

// PurchaseRepository defines the interface for purchase bookkeeping
type PurchaseRepository interface {
	Create(purchase *models.Purchase) error
	CreateIfNotExists(purchase *models.Purchase) (bool, *models.Purchase, error)
	GetByProviderTransactionID(provider models.Provider, transactionID string) (*models.Purchase, error)
	GetPending(userID uint, productKey string) (*models.Purchase, error)
	HasCompleted(userID uint, productKey string) (bool, error)
	ListByUser(userID uint) ([]models.Purchase, error)
	ListCompletedKeysByUser(userID uint) ([]string, error)
	Update(purchase *models.Purchase) error
}

// EnrollmentRepository defines the interface for course-access records
type EnrollmentRepository interface {
	GetByUserAndCourse(userID, courseID uint) (*models.Enrollment, error)
	Create(enrollment *models.Enrollment) error
	Update(enrollment *models.Enrollment) error
	ListByUser(userID uint) ([]models.Enrollment, error)
}

// SessionRepository defines the interface for opaque bearer sessions
type SessionRepository interface {
	Create(session *models.Session) error
	GetActiveByToken(token string) (*models.Session, error)
	Delete(id uint) error
}

// WebhookEventRepository defines the interface for inbound event bookkeeping
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// PriceRepository defines the interface for the cached provider price registry
type PriceRepository interface {
	GetByProduct(provider models.Provider, productKey string) (*models.ProviderPrice, error)
	Upsert(price *models.ProviderPrice) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Customer     CustomerRepository
	User         UserRepository
	Product      ProductRepository
	Purchase     PurchaseRepository
	Enrollment   EnrollmentRepository
	Session      SessionRepository
	WebhookEvent WebhookEventRepository
	Price        PriceRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Customer:     NewCustomerRepository(db),
		User:         NewUserRepository(db),
		Product:      NewProductRepository(db),
		Purchase:     NewPurchaseRepository(db),
		Enrollment:   NewEnrollmentRepository(db),
		Session:      NewSessionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Price:        NewPriceRepository(db),
	}
}
