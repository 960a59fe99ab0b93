package models

import "time"

const (
	OrgSubscriptionStatusActive   = "active"
	OrgSubscriptionStatusPastDue  = "past_due"
	OrgSubscriptionStatusCanceled = "canceled"
	OrgSubscriptionStatusExpired  = "expired"
)

// OrganizationSubscription attaches a plan to an organization together with
// the confirmed billing snapshot from the provider webhook. TransactionID is
// unique so redelivered webhooks cannot activate or renew twice.
type OrganizationSubscription struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	OrganizationID uint       `gorm:"not null;index:ux_org_subscriptions_org,unique" json:"organization_id"`
	PlanID         uint       `gorm:"not null;index" json:"plan_id"`
	Status         string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	TransactionID  string     `gorm:"type:varchar(191);default:'';index:ux_org_subscriptions_transaction,unique" json:"transaction_id"`
	AmountCents    int64      `gorm:"default:0" json:"amount_cents"`
	Currency       string     `gorm:"type:varchar(8);default:''" json:"currency"`
	BillingCycle   string     `gorm:"type:varchar(16);default:''" json:"billing_cycle"`
	PayerEmail     string     `gorm:"type:varchar(200);default:''" json:"payer_email"`
	StartsAt       *time.Time `gorm:"type:timestamp;default:null" json:"starts_at,omitempty"`
	NextBillingAt  *time.Time `gorm:"type:timestamp;default:null" json:"next_billing_at,omitempty"`
	EndsAt         *time.Time `gorm:"type:timestamp;default:null" json:"ends_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
