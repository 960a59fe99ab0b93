package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization is a tenant (a school or company) that subscribes to an
// OrganizationPlan for seat-based access to the platform.
type Organization struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(200);not null" json:"name" validate:"required,min=2,max=200"`
	Slug         string         `gorm:"type:varchar(220);uniqueIndex;not null" json:"slug"`
	OwnerID      uint           `gorm:"index" json:"owner_id"`
	BillingEmail string         `gorm:"type:varchar(200)" json:"billing_email" validate:"omitempty,email"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
