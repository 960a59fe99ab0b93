package payment

import (
	"context"
	"fmt"

	"github.com/HossamFares/Lernora/app/models"
)

// PricingResolver maps a subscription target and billing cycle to the
// amount to charge. Prices come exclusively from local records; nothing on
// the quote path talks to a gateway.
type PricingResolver struct {
	repo            Repository
	defaultCurrency string
}

func NewPricingResolver(repo Repository, defaultCurrency string) *PricingResolver {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &PricingResolver{repo: repo, defaultCurrency: defaultCurrency}
}

// Quote resolves the charge for one billing cycle of the target. A target
// without a configured price for the cycle fails with ErrInvalidPrice.
func (r *PricingResolver) Quote(ctx context.Context, target SubscriptionTarget, cycle BillingCycle) (PriceQuote, error) {
	if err := target.Validate(); err != nil {
		return PriceQuote{}, err
	}
	if !cycle.Valid() {
		return PriceQuote{}, fmt.Errorf("%w: unknown billing cycle %q", ErrInvalidPrice, cycle)
	}

	switch target.Kind {
	case TargetUserCourse:
		return r.quoteCourse(ctx, target.CourseID, cycle)
	case TargetOrganizationPlan:
		return r.quoteOrganizationPlan(ctx, target.PlanID, cycle)
	default:
		return PriceQuote{}, fmt.Errorf("%w: unknown target kind %q", ErrInvalidPrice, target.Kind)
	}
}

func (r *PricingResolver) quoteCourse(ctx context.Context, courseID uint, cycle BillingCycle) (PriceQuote, error) {
	course, err := r.repo.FindCourse(ctx, courseID)
	if err != nil {
		return PriceQuote{}, err
	}
	if !course.Paid || course.Status != models.CourseStatusPublished {
		return PriceQuote{}, fmt.Errorf("%w: course %d is not purchasable", ErrInvalidPrice, courseID)
	}
	price, ok := course.PriceFor(string(cycle))
	if !ok || price.AmountCents <= 0 {
		return PriceQuote{}, fmt.Errorf("%w: course %d has no %s price", ErrInvalidPrice, courseID, cycle)
	}
	currency := price.Currency
	if currency == "" {
		currency = r.defaultCurrency
	}
	return QuoteFromCents(price.AmountCents, currency), nil
}

func (r *PricingResolver) quoteOrganizationPlan(ctx context.Context, planID uint, cycle BillingCycle) (PriceQuote, error) {
	plan, err := r.repo.FindOrganizationPlan(ctx, planID)
	if err != nil {
		return PriceQuote{}, err
	}
	if !plan.IsActive {
		return PriceQuote{}, fmt.Errorf("%w: plan %d is not active", ErrInvalidPrice, planID)
	}

	var cents int64
	switch cycle {
	case CycleMonthly:
		cents = plan.MonthlyPriceCents
	case CycleYearly:
		cents = plan.YearlyPriceCents
	}
	if cents <= 0 {
		return PriceQuote{}, fmt.Errorf("%w: plan %d has no %s price", ErrInvalidPrice, planID, cycle)
	}
	currency := plan.Currency
	if currency == "" {
		currency = r.defaultCurrency
	}
	return QuoteFromCents(cents, currency), nil
}
