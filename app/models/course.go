package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	CourseStatusDraft     = "draft"
	CourseStatusPublished = "published"
	CourseStatusArchived  = "archived"
)

// Course is a subscribable entity: paid courses carry per-cycle price rows
// (CoursePrice) and collect provider-side plan refs once the first
// subscription against them succeeds.
type Course struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"type:varchar(200);not null" json:"title" validate:"required,min=3,max=200"`
	Slug        string         `gorm:"type:varchar(220);uniqueIndex;not null" json:"slug"`
	Description string         `gorm:"type:text" json:"description"`
	InstructorID uint          `gorm:"index" json:"instructor_id"`
	Status      string         `gorm:"type:varchar(20);default:'draft';index" json:"status" validate:"oneof=draft published archived"`
	Paid        bool           `gorm:"default:false;index" json:"paid"`
	Prices      []CoursePrice  `gorm:"foreignKey:CourseID" json:"prices,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// CoursePrice is the per-cycle pricing row for a paid course. Amounts are
// stored in the smallest currency unit.
type CoursePrice struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CourseID     uint      `gorm:"not null;index:ux_course_prices_course_cycle,unique,priority:1" json:"course_id"`
	BillingCycle string    `gorm:"type:varchar(16);not null;index:ux_course_prices_course_cycle,unique,priority:2" json:"billing_cycle"`
	AmountCents  int64     `gorm:"not null" json:"amount_cents"`
	Currency     string    `gorm:"type:varchar(8);not null" json:"currency"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PriceFor returns the price row for the given cycle, if configured.
func (c *Course) PriceFor(cycle string) (*CoursePrice, bool) {
	for i := range c.Prices {
		if c.Prices[i].BillingCycle == cycle && c.Prices[i].AmountCents > 0 {
			return &c.Prices[i], true
		}
	}
	return nil, false
}
