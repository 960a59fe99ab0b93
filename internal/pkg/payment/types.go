package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HossamFares/Lernora/app/models"
)

// Provider names, shared with the persisted plan refs and webhook events.
const (
	ProviderPaymob = models.PaymentProviderPaymob
	ProviderPayPal = models.PaymentProviderPayPal
)

// BillingCycle is the recurrence period of a subscription.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "month"
	CycleYearly  BillingCycle = "year"
)

// Valid reports whether the cycle is one of the supported periods.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// FrequencyDays maps the cycle to the day-based frequency used by the
// token gateway.
func (c BillingCycle) FrequencyDays() int {
	if c == CycleYearly {
		return 365
	}
	return 30
}

// IntervalUnit maps the cycle to the interval unit used by the OAuth gateway.
func (c BillingCycle) IntervalUnit() string {
	if c == CycleYearly {
		return "YEAR"
	}
	return "MONTH"
}

// TargetKind discriminates the SubscriptionTarget union.
type TargetKind string

const (
	TargetOrganizationPlan TargetKind = "organization_plan"
	TargetUserCourse       TargetKind = "user_course"
)

// SubscriptionTarget is the tagged union naming what is being subscribed:
// an organization onto a plan, or a user onto a paid course. Exactly one
// variant is populated; the variant selects the downstream collaborator.
type SubscriptionTarget struct {
	Kind           TargetKind `json:"kind"`
	OrganizationID uint       `json:"organization_id,omitempty"`
	PlanID         uint       `json:"plan_id,omitempty"`
	UserID         uint       `json:"user_id,omitempty"`
	CourseID       uint       `json:"course_id,omitempty"`
}

// OrganizationPlanTarget builds the organization+plan variant.
func OrganizationPlanTarget(organizationID, planID uint) SubscriptionTarget {
	return SubscriptionTarget{Kind: TargetOrganizationPlan, OrganizationID: organizationID, PlanID: planID}
}

// UserCourseTarget builds the user+course variant.
func UserCourseTarget(userID, courseID uint) SubscriptionTarget {
	return SubscriptionTarget{Kind: TargetUserCourse, UserID: userID, CourseID: courseID}
}

// Validate checks that exactly the fields of the tagged variant are set.
func (t SubscriptionTarget) Validate() error {
	switch t.Kind {
	case TargetOrganizationPlan:
		if t.OrganizationID == 0 || t.PlanID == 0 {
			return errors.New("organization plan target requires organization_id and plan_id")
		}
		if t.UserID != 0 || t.CourseID != 0 {
			return errors.New("organization plan target must not carry user or course ids")
		}
	case TargetUserCourse:
		if t.UserID == 0 || t.CourseID == 0 {
			return errors.New("user course target requires user_id and course_id")
		}
		if t.OrganizationID != 0 || t.PlanID != 0 {
			return errors.New("user course target must not carry organization or plan ids")
		}
	default:
		return errors.New("unknown subscription target kind")
	}
	return nil
}

// Entity returns the subscribable entity behind the target: the course for
// user+course targets, the plan for organization+plan targets.
func (t SubscriptionTarget) Entity() PlanEntity {
	if t.Kind == TargetUserCourse {
		return PlanEntity{Type: models.PlanEntityCourse, ID: t.CourseID}
	}
	return PlanEntity{Type: models.PlanEntityOrganizationPlan, ID: t.PlanID}
}

// PlanEntity identifies a subscribable entity for remote plan provisioning.
type PlanEntity struct {
	Type string
	ID   uint
}

// PriceQuote is the resolved charge for one billing cycle. Produced fresh
// per request, never persisted standalone.
type PriceQuote struct {
	Amount   decimal.Decimal
	Currency string
}

// QuoteFromCents builds a quote from an amount in the smallest currency unit.
func QuoteFromCents(cents int64, currency string) PriceQuote {
	return PriceQuote{Amount: decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)), Currency: currency}
}

// AmountCents returns the amount in the smallest currency unit.
func (q PriceQuote) AmountCents() int64 {
	return q.Amount.Mul(decimal.NewFromInt(100)).IntPart()
}

// AmountString renders the amount with two decimal places, the format the
// OAuth gateway expects.
func (q PriceQuote) AmountString() string {
	return q.Amount.StringFixed(2)
}

// Customer is the payer identity forwarded to the gateway at checkout.
type Customer struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone"`
}

// BillingAddress is the payer address forwarded to the gateway at checkout.
type BillingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

// RemotePlan is a provider-side recurring-billing plan reference as returned
// by a gateway. PlanRef rows persist it locally.
type RemotePlan struct {
	Provider  string
	PlanID    string
	ProductID string
}

// CheckoutSession is the result of creating a remote subscription: the URL
// the payer must be redirected to, and the provider's subscription id.
type CheckoutSession struct {
	ApprovalURL            string `json:"approval_url"`
	ExternalSubscriptionID string `json:"external_subscription_id"`
}

// PaymentLink is an ad-hoc payment URL for wallet top-ups.
type PaymentLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BillingSnapshot is the denormalized record of a confirmed charge derived
// from a webhook. It is immutable once created; TransactionID doubles as the
// dedup key for at-least-once webhook delivery.
type BillingSnapshot struct {
	TransactionID string
	AmountCents   int64
	Currency      string
	Cycle         BillingCycle
	PayerEmail    string
	StartsAt      *time.Time
	NextBillingAt *time.Time
	EndsAt        *time.Time
}

// ActionKind discriminates the DomainAction union.
type ActionKind string

const (
	ActionActivate     ActionKind = "activate"
	ActionRenew        ActionKind = "renew"
	ActionCreditWallet ActionKind = "credit_wallet"
	ActionIgnore       ActionKind = "ignore"
)

// DomainAction is the normalized outcome of interpreting one webhook
// delivery. Produced once per webhook and applied at most once.
type DomainAction struct {
	Kind     ActionKind
	Target   SubscriptionTarget
	Snapshot BillingSnapshot

	// CreditWallet fields.
	WalletEmail string
	AmountCents int64
	Currency    string

	// Reason records why an event was ignored, for the webhook event log.
	Reason string
}

// Ignore builds the no-op action with a diagnostic reason.
func Ignore(reason string) DomainAction {
	return DomainAction{Kind: ActionIgnore, Reason: reason}
}
