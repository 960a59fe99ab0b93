package payment

import (
	"context"
	"errors"
	"fmt"
)

// Applier executes the domain action derived from a webhook. Every path is
// idempotent by the provider transaction id, so at-least-once delivery
// collapses to exactly-once effects.
type Applier struct {
	repo Repository
}

func NewApplier(repo Repository) *Applier {
	return &Applier{repo: repo}
}

func (a *Applier) Apply(ctx context.Context, action DomainAction) error {
	switch action.Kind {
	case ActionIgnore:
		return nil
	case ActionActivate:
		return a.applyActivate(ctx, action)
	case ActionRenew:
		return a.applyRenew(ctx, action)
	case ActionCreditWallet:
		return a.applyCreditWallet(ctx, action)
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (a *Applier) applyActivate(ctx context.Context, action DomainAction) error {
	if err := action.Target.Validate(); err != nil {
		return err
	}
	switch action.Target.Kind {
	case TargetOrganizationPlan:
		return a.repo.ActivateOrganizationSubscription(ctx, action.Target.OrganizationID, action.Target.PlanID, action.Snapshot)
	case TargetUserCourse:
		return a.repo.ActivateEnrollment(ctx, action.Target.UserID, action.Target.CourseID, action.Snapshot)
	}
	return fmt.Errorf("unknown target kind %q", action.Target.Kind)
}

// applyRenew renews the existing record. A renewal arriving before its
// activation (out-of-order delivery) falls back to activating.
func (a *Applier) applyRenew(ctx context.Context, action DomainAction) error {
	if err := action.Target.Validate(); err != nil {
		return err
	}
	switch action.Target.Kind {
	case TargetOrganizationPlan:
		err := a.repo.RenewOrganizationSubscription(ctx, action.Target.OrganizationID, action.Snapshot)
		if errors.Is(err, ErrNotFound) {
			return a.repo.ActivateOrganizationSubscription(ctx, action.Target.OrganizationID, action.Target.PlanID, action.Snapshot)
		}
		return err
	case TargetUserCourse:
		err := a.repo.RenewEnrollment(ctx, action.Target.UserID, action.Target.CourseID, action.Snapshot)
		if errors.Is(err, ErrNotFound) {
			return a.repo.ActivateEnrollment(ctx, action.Target.UserID, action.Target.CourseID, action.Snapshot)
		}
		return err
	}
	return fmt.Errorf("unknown target kind %q", action.Target.Kind)
}

func (a *Applier) applyCreditWallet(ctx context.Context, action DomainAction) error {
	if action.WalletEmail == "" {
		return fmt.Errorf("%w: wallet credit without payer email", ErrWalletNotFound)
	}
	if action.AmountCents <= 0 {
		return fmt.Errorf("wallet credit with non-positive amount %d", action.AmountCents)
	}
	memo := "wallet top-up"
	return a.repo.CreditWalletByEmail(ctx, action.WalletEmail, action.AmountCents, action.Currency, action.Snapshot.TransactionID, memo)
}
