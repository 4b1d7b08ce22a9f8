package repository

import (
	"time"

	"github.com/coursepay/coursepay/app/models"
	"gorm.io/gorm"
)

// sessionRepository implements the SessionRepository interface
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new session repository instance
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create creates a new session row
func (r *sessionRepository) Create(session *models.Session) error {
	return r.db.Create(session).Error
}

// GetActiveByToken resolves a bearer token to a non-expired session
func (r *sessionRepository) GetActiveByToken(token string) (*models.Session, error) {
	var session models.Session
	err := r.db.Where("token = ? AND expires_at > ?", token, time.Now()).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes a session row by ID
func (r *sessionRepository) Delete(id uint) error {
	return r.db.Delete(&models.Session{}, id).Error
}
