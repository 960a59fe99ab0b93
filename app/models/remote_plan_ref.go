package models

import "time"

// Payment provider constants used across payment-related models.
const (
	PaymentProviderPaymob = "paymob"
	PaymentProviderPayPal = "paypal"
)

// Subscribable entity kinds a remote plan can back.
const (
	PlanEntityCourse           = "course"
	PlanEntityOrganizationPlan = "organization_plan"
)

// RemotePlanRef records the provider-side recurring-billing plan (and, for
// providers that require one, its parent product) backing a subscribable
// entity. Created at most once per (entity, provider) — the unique index is
// the last line of defense against concurrent first-time subscriptions.
type RemotePlanRef struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	EntityType        string    `gorm:"type:varchar(30);not null;index:ux_remote_plan_refs_entity_provider,unique,priority:1" json:"entity_type"`
	EntityID          uint      `gorm:"not null;index:ux_remote_plan_refs_entity_provider,unique,priority:2" json:"entity_id"`
	Provider          string    `gorm:"type:varchar(20);not null;index:ux_remote_plan_refs_entity_provider,unique,priority:3" json:"provider"`
	BillingCycle      string    `gorm:"type:varchar(16);not null;index:ux_remote_plan_refs_entity_provider,unique,priority:4" json:"billing_cycle"`
	ExternalPlanID    string    `gorm:"type:varchar(191);not null" json:"external_plan_id"`
	ExternalProductID string    `gorm:"type:varchar(191);default:''" json:"external_product_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
