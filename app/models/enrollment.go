package models

import "time"

const (
	EnrollmentStatusActive  = "active"
	EnrollmentStatusRevoked = "revoked"
)

// Enrollment links a User to a Course. The pair is unique; re-granting access
// reactivates the existing row instead of inserting a duplicate.
type Enrollment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:ux_enrollments_user_course,unique,priority:1" json:"user_id"`
	CourseID  uint      `gorm:"not null;index:ux_enrollments_user_course,unique,priority:2" json:"course_id"`
	Status    string    `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the enrollment currently grants access.
func (e *Enrollment) IsActive() bool {
	return e.Status == EnrollmentStatusActive
}
