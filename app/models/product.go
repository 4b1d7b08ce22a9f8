package models

import "time"

// Stable product keys. The main course and the exit offer are defined as code
// constants rather than rows; add-ons live in the products table.
const (
	ProductKeyMainCourse = "main_course"
	ProductKeyExitOffer  = "exit_offer"
	ProductKeyFBAds      = "fb_ads"
	ProductKeyCanvaKit   = "canva_kit"
	ProductKeyAgencyPack = "agency_pack"
	ProductKeyMembership = "membership"
)

// Product is a sellable catalog entity. Price is in minor currency units.
type Product struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"uniqueIndex;type:varchar(100);not null" json:"key" validate:"required"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name" validate:"required"`
	Price     int64     `gorm:"not null" json:"price" validate:"gte=0"`
	Currency  string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	CourseID  uint      `gorm:"index" json:"course_id"`
	Active    bool      `gorm:"default:true;index" json:"active"`
	Recurring bool      `gorm:"default:false" json:"recurring"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// MainCourseProduct returns the built-in main course offer.
func MainCourseProduct() Product {
	return Product{
		Key:      ProductKeyMainCourse,
		Name:     "UGC Launch Course",
		Price:    2700,
		Currency: "usd",
		CourseID: 1,
		Active:   true,
	}
}

// ExitOfferProduct returns the built-in discounted exit offer.
func ExitOfferProduct() Product {
	return Product{
		Key:      ProductKeyExitOffer,
		Name:     "UGC Launch Course (Exit Offer)",
		Price:    1700,
		Currency: "usd",
		CourseID: 1,
		Active:   true,
	}
}

// BuiltInProduct resolves the code-constant part of the hybrid catalog.
func BuiltInProduct(key string) (Product, bool) {
	switch key {
	case ProductKeyMainCourse:
		return MainCourseProduct(), true
	case ProductKeyExitOffer:
		return ExitOfferProduct(), true
	default:
		return Product{}, false
	}
}

// AddOnKeys is the fixed add-on catalog the bundle routing table covers.
func AddOnKeys() []string {
	return []string{
		ProductKeyAgencyPack,
		ProductKeyCanvaKit,
		ProductKeyFBAds,
		ProductKeyMembership,
	}
}

// IsAddOnKey reports whether key belongs to the fixed add-on catalog.
func IsAddOnKey(key string) bool {
	for _, k := range AddOnKeys() {
		if k == key {
			return true
		}
	}
	return false
}
