package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HossamFares/Lernora/app/models"
)

func snapshotForTest(txnID string, cents int64) BillingSnapshot {
	now := time.Now()
	next := now.AddDate(0, 1, 0)
	return BillingSnapshot{
		TransactionID: txnID,
		AmountCents:   cents,
		Currency:      "USD",
		Cycle:         CycleMonthly,
		PayerEmail:    "payer@example.com",
		StartsAt:      &now,
		NextBillingAt: &next,
	}
}

func TestApplyActivateIsIdempotentByTransaction(t *testing.T) {
	repo := newFakeRepo()
	repo.orgs[1] = &models.Organization{ID: 1}
	repo.plans[2] = &models.OrganizationPlan{ID: 2, IsActive: true}
	applier := NewApplier(repo)

	action := DomainAction{
		Kind:     ActionActivate,
		Target:   OrganizationPlanTarget(1, 2),
		Snapshot: snapshotForTest("txn-1", 2900),
	}

	for i := 0; i < 3; i++ {
		if err := applier.Apply(context.Background(), action); err != nil {
			t.Fatalf("apply %d failed: %v", i, err)
		}
	}

	if repo.activations != 1 {
		t.Errorf("activations: got %d want 1", repo.activations)
	}
	sub := repo.orgSubs[1]
	if sub == nil || sub.AmountCents != 2900 || sub.Status != models.OrgSubscriptionStatusActive {
		t.Fatalf("unexpected subscription state: %+v", sub)
	}
}

func TestApplyRenewUpdatesExistingSubscription(t *testing.T) {
	repo := newFakeRepo()
	repo.orgs[1] = &models.Organization{ID: 1}
	repo.plans[2] = &models.OrganizationPlan{ID: 2, IsActive: true}
	applier := NewApplier(repo)

	activate := DomainAction{Kind: ActionActivate, Target: OrganizationPlanTarget(1, 2), Snapshot: snapshotForTest("txn-1", 2900)}
	if err := applier.Apply(context.Background(), activate); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	renew := DomainAction{Kind: ActionRenew, Target: OrganizationPlanTarget(1, 2), Snapshot: snapshotForTest("txn-2", 2900)}
	if err := applier.Apply(context.Background(), renew); err != nil {
		t.Fatalf("renew failed: %v", err)
	}
	// Redelivery of the same renewal is a no-op.
	if err := applier.Apply(context.Background(), renew); err != nil {
		t.Fatalf("renew redelivery failed: %v", err)
	}

	if repo.renewals != 1 {
		t.Errorf("renewals: got %d want 1", repo.renewals)
	}
	if repo.orgSubs[1].TransactionID != "txn-2" {
		t.Errorf("transaction id not updated: %q", repo.orgSubs[1].TransactionID)
	}
}

func TestApplyRenewBeforeActivationFallsBackToActivate(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1}
	repo.courses[3] = &models.Course{ID: 3}
	applier := NewApplier(repo)

	renew := DomainAction{Kind: ActionRenew, Target: UserCourseTarget(1, 3), Snapshot: snapshotForTest("txn-9", 1500)}
	if err := applier.Apply(context.Background(), renew); err != nil {
		t.Fatalf("renew failed: %v", err)
	}

	if repo.activations != 1 {
		t.Errorf("activations: got %d want 1", repo.activations)
	}
	if e := repo.enrollments[enrollmentKey(1, 3)]; e == nil || e.AccessType != models.EnrollmentAccessSubscription {
		t.Fatalf("unexpected enrollment state: %+v", e)
	}
}

func TestApplyCreditWalletOncePerTransaction(t *testing.T) {
	repo := newFakeRepo()
	repo.wallets["payer@example.com"] = &models.Wallet{ID: 1, UserID: 1, BillingEmail: "payer@example.com", Currency: "EGP"}
	applier := NewApplier(repo)

	action := DomainAction{
		Kind:        ActionCreditWallet,
		WalletEmail: "payer@example.com",
		AmountCents: 5000,
		Currency:    "EGP",
		Snapshot:    BillingSnapshot{TransactionID: "txn-w1"},
	}

	for i := 0; i < 2; i++ {
		if err := applier.Apply(context.Background(), action); err != nil {
			t.Fatalf("apply %d failed: %v", i, err)
		}
	}

	if repo.credits != 1 {
		t.Errorf("credits: got %d want 1", repo.credits)
	}
	if got := repo.wallets["payer@example.com"].BalanceCents; got != 5000 {
		t.Errorf("balance: got %d want 5000", got)
	}
}

func TestApplyCreditWalletUnknownEmail(t *testing.T) {
	applier := NewApplier(newFakeRepo())

	action := DomainAction{
		Kind:        ActionCreditWallet,
		WalletEmail: "stranger@example.com",
		AmountCents: 100,
		Currency:    "EGP",
		Snapshot:    BillingSnapshot{TransactionID: "txn-w2"},
	}
	if err := applier.Apply(context.Background(), action); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestApplyCreditWalletRejectsCurrencyMismatch(t *testing.T) {
	repo := newFakeRepo()
	if _, err := repo.EnsureWallet(context.Background(), 1, "nour@example.com", "EGP"); err != nil {
		t.Fatalf("EnsureWallet failed: %v", err)
	}
	applier := NewApplier(repo)

	action := DomainAction{
		Kind:        ActionCreditWallet,
		WalletEmail: "nour@example.com",
		AmountCents: 100,
		Currency:    "USD",
		Snapshot:    BillingSnapshot{TransactionID: "txn-w3"},
	}
	err := applier.Apply(context.Background(), action)
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	if !permanentApplyError(err) {
		t.Error("currency mismatch must be acknowledged, not redelivered")
	}
	if repo.credits != 0 || repo.wallets["nour@example.com"].BalanceCents != 0 {
		t.Errorf("wallet must stay untouched: credits=%d balance=%d", repo.credits, repo.wallets["nour@example.com"].BalanceCents)
	}
}

func TestApplyActivateMissingTargetEntity(t *testing.T) {
	repo := newFakeRepo()
	repo.orgs[1] = &models.Organization{ID: 1}
	applier := NewApplier(repo)

	action := DomainAction{
		Kind:     ActionActivate,
		Target:   OrganizationPlanTarget(1, 99),
		Snapshot: snapshotForTest("txn-x", 2900),
	}
	if err := applier.Apply(context.Background(), action); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
