package models

import "time"

// Course is the catalog entity enrollments point at. Content structure
// (lessons, modules) is managed elsewhere; this core only needs the identity.
type Course struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"type:varchar(200);not null" json:"title" validate:"required"`
	Slug      string    `gorm:"uniqueIndex;type:varchar(200);not null" json:"slug" validate:"required"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
