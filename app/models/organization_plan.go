package models

import "time"

// OrganizationPlan is a subscribable entity: a platform tier organizations
// pay for on a recurring basis. Prices are flat per cycle in the smallest
// currency unit; the currency defaults to the platform default unless set.
type OrganizationPlan struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"name" validate:"required,min=2,max=100"`
	Description       string    `gorm:"type:text" json:"description"`
	MonthlyPriceCents int64     `gorm:"not null;default:0" json:"monthly_price_cents"`
	YearlyPriceCents  int64     `gorm:"not null;default:0" json:"yearly_price_cents"`
	Currency          string    `gorm:"type:varchar(8);default:''" json:"currency"`
	MaxSeats          int       `gorm:"default:0" json:"max_seats"`
	IsActive          bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
