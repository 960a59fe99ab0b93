package models

import "time"

const (
	EnrollmentAccessFree         = "free"
	EnrollmentAccessPurchase     = "purchase"
	EnrollmentAccessSubscription = "subscription"
)

const (
	EnrollmentStatusActive   = "active"
	EnrollmentStatusExpired  = "expired"
	EnrollmentStatusCanceled = "canceled"
)

// Enrollment grants a user access to a course. Subscription enrollments
// carry the confirmed billing snapshot of the charge that created or last
// renewed them; TransactionID is the natural dedup key for webhook replays.
type Enrollment struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"not null;index:ux_enrollments_user_course,unique,priority:1" json:"user_id"`
	CourseID      uint       `gorm:"not null;index:ux_enrollments_user_course,unique,priority:2" json:"course_id"`
	AccessType    string     `gorm:"type:varchar(20);not null;default:'free'" json:"access_type"`
	Status        string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	TransactionID string     `gorm:"type:varchar(191);default:'';index:ux_enrollments_transaction,unique" json:"transaction_id"`
	AmountCents   int64      `gorm:"default:0" json:"amount_cents"`
	Currency      string     `gorm:"type:varchar(8);default:''" json:"currency"`
	BillingCycle  string     `gorm:"type:varchar(16);default:''" json:"billing_cycle"`
	PayerEmail    string     `gorm:"type:varchar(200);default:''" json:"payer_email"`
	StartsAt      *time.Time `gorm:"type:timestamp;default:null" json:"starts_at,omitempty"`
	NextBillingAt *time.Time `gorm:"type:timestamp;default:null" json:"next_billing_at,omitempty"`
	EndsAt        *time.Time `gorm:"type:timestamp;default:null" json:"ends_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
