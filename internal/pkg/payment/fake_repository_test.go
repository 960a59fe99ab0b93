package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HossamFares/Lernora/app/models"
)

// fakeRepo mirrors the gorm repository's semantics in memory: transaction
// id dedup, keep-first plan ref upsert, webhook event dedup on the provider
// event id.
type fakeRepo struct {
	mu sync.Mutex

	courses map[uint]*models.Course
	orgs    map[uint]*models.Organization
	plans   map[uint]*models.OrganizationPlan
	users   map[uint]*models.User

	planRefs map[string]*models.RemotePlanRef

	events      map[string]*models.PaymentWebhookEvent
	nextEventID uint

	orgSubs     map[uint]*models.OrganizationSubscription
	enrollments map[string]*models.Enrollment
	wallets     map[string]*models.Wallet
	walletTxns  map[string]bool

	activations int
	renewals    int
	credits     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		courses:     make(map[uint]*models.Course),
		orgs:        make(map[uint]*models.Organization),
		plans:       make(map[uint]*models.OrganizationPlan),
		users:       make(map[uint]*models.User),
		planRefs:    make(map[string]*models.RemotePlanRef),
		events:      make(map[string]*models.PaymentWebhookEvent),
		orgSubs:     make(map[uint]*models.OrganizationSubscription),
		enrollments: make(map[string]*models.Enrollment),
		wallets:     make(map[string]*models.Wallet),
		walletTxns:  make(map[string]bool),
	}
}

func (f *fakeRepo) FindCourse(ctx context.Context, id uint) (*models.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.courses[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: course %d", ErrNotFound, id)
}

func (f *fakeRepo) FindOrganization(ctx context.Context, id uint) (*models.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orgs[id]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("%w: organization %d", ErrNotFound, id)
}

func (f *fakeRepo) FindOrganizationPlan(ctx context.Context, id uint) (*models.OrganizationPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plans[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: organization plan %d", ErrNotFound, id)
}

func (f *fakeRepo) FindUser(ctx context.Context, id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
}

func planRefKey(entity PlanEntity, provider string, cycle BillingCycle) string {
	return fmt.Sprintf("%s/%d/%s/%s", entity.Type, entity.ID, provider, cycle)
}

func (f *fakeRepo) FindRemotePlanRef(ctx context.Context, entity PlanEntity, provider string, cycle BillingCycle) (*models.RemotePlanRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ref, ok := f.planRefs[planRefKey(entity, provider, cycle)]; ok {
		return ref, nil
	}
	return nil, fmt.Errorf("%w: plan ref", ErrNotFound)
}

func (f *fakeRepo) UpsertRemotePlanRef(ctx context.Context, entity PlanEntity, provider string, cycle BillingCycle, plan RemotePlan) (*models.RemotePlanRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := planRefKey(entity, provider, cycle)
	if ref, ok := f.planRefs[key]; ok {
		return ref, nil
	}
	ref := &models.RemotePlanRef{
		ID:                uint(len(f.planRefs) + 1),
		EntityType:        entity.Type,
		EntityID:          entity.ID,
		Provider:          provider,
		BillingCycle:      string(cycle),
		ExternalPlanID:    plan.PlanID,
		ExternalProductID: plan.ProductID,
	}
	f.planRefs[key] = ref
	return ref, nil
}

func (f *fakeRepo) InsertWebhookEvent(ctx context.Context, event *models.PaymentWebhookEvent) (*models.PaymentWebhookEvent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := f.events[key]; ok {
		return existing, false, nil
	}
	f.nextEventID++
	event.ID = f.nextEventID
	f.events[key] = event
	return event, true, nil
}

func (f *fakeRepo) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return fmt.Errorf("%w: webhook event %d", ErrNotFound, id)
}

func (f *fakeRepo) transactionSeen(txnID string) bool {
	for _, s := range f.orgSubs {
		if s.TransactionID == txnID {
			return true
		}
	}
	for _, e := range f.enrollments {
		if e.TransactionID == txnID {
			return true
		}
	}
	return false
}

func (f *fakeRepo) ActivateOrganizationSubscription(ctx context.Context, organizationID, planID uint, snap BillingSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transactionSeen(snap.TransactionID) {
		return nil
	}
	if _, ok := f.orgs[organizationID]; !ok {
		return fmt.Errorf("%w: organization %d", ErrNotFound, organizationID)
	}
	if _, ok := f.plans[planID]; !ok {
		return fmt.Errorf("%w: organization plan %d", ErrNotFound, planID)
	}
	f.activations++
	f.orgSubs[organizationID] = &models.OrganizationSubscription{
		OrganizationID: organizationID,
		PlanID:         planID,
		Status:         models.OrgSubscriptionStatusActive,
		TransactionID:  snap.TransactionID,
		AmountCents:    snap.AmountCents,
		Currency:       snap.Currency,
		BillingCycle:   string(snap.Cycle),
		PayerEmail:     snap.PayerEmail,
		StartsAt:       snap.StartsAt,
		NextBillingAt:  snap.NextBillingAt,
	}
	return nil
}

func (f *fakeRepo) RenewOrganizationSubscription(ctx context.Context, organizationID uint, snap BillingSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transactionSeen(snap.TransactionID) {
		return nil
	}
	sub, ok := f.orgSubs[organizationID]
	if !ok {
		return fmt.Errorf("%w: subscription for organization %d", ErrNotFound, organizationID)
	}
	f.renewals++
	sub.Status = models.OrgSubscriptionStatusActive
	sub.TransactionID = snap.TransactionID
	sub.AmountCents = snap.AmountCents
	sub.NextBillingAt = snap.NextBillingAt
	return nil
}

func enrollmentKey(userID, courseID uint) string {
	return fmt.Sprintf("%d/%d", userID, courseID)
}

func (f *fakeRepo) ActivateEnrollment(ctx context.Context, userID, courseID uint, snap BillingSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transactionSeen(snap.TransactionID) {
		return nil
	}
	if _, ok := f.users[userID]; !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	if _, ok := f.courses[courseID]; !ok {
		return fmt.Errorf("%w: course %d", ErrNotFound, courseID)
	}
	f.activations++
	f.enrollments[enrollmentKey(userID, courseID)] = &models.Enrollment{
		UserID:        userID,
		CourseID:      courseID,
		AccessType:    models.EnrollmentAccessSubscription,
		Status:        models.EnrollmentStatusActive,
		TransactionID: snap.TransactionID,
		AmountCents:   snap.AmountCents,
		Currency:      snap.Currency,
		BillingCycle:  string(snap.Cycle),
		PayerEmail:    snap.PayerEmail,
		StartsAt:      snap.StartsAt,
		NextBillingAt: snap.NextBillingAt,
	}
	return nil
}

func (f *fakeRepo) RenewEnrollment(ctx context.Context, userID, courseID uint, snap BillingSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transactionSeen(snap.TransactionID) {
		return nil
	}
	enrollment, ok := f.enrollments[enrollmentKey(userID, courseID)]
	if !ok {
		return fmt.Errorf("%w: enrollment", ErrNotFound)
	}
	f.renewals++
	enrollment.Status = models.EnrollmentStatusActive
	enrollment.TransactionID = snap.TransactionID
	enrollment.AmountCents = snap.AmountCents
	enrollment.NextBillingAt = snap.NextBillingAt
	return nil
}

func (f *fakeRepo) CreditWalletByEmail(ctx context.Context, email string, amountCents int64, currency, transactionID, memo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wallet, ok := f.wallets[email]
	if !ok {
		return fmt.Errorf("%w: no wallet for %s", ErrWalletNotFound, email)
	}
	if wallet.Currency != currency {
		return fmt.Errorf("%w: wallet holds %s, charge is %s", ErrCurrencyMismatch, wallet.Currency, currency)
	}
	if f.walletTxns[transactionID] {
		return nil
	}
	f.walletTxns[transactionID] = true
	f.credits++
	wallet.BalanceCents += amountCents
	return nil
}

func (f *fakeRepo) EnsureWallet(ctx context.Context, userID uint, billingEmail, currency string) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.wallets[billingEmail]; ok {
		return w, nil
	}
	w := &models.Wallet{
		ID:           uint(len(f.wallets) + 1),
		UserID:       userID,
		BillingEmail: billingEmail,
		Currency:     currency,
	}
	f.wallets[billingEmail] = w
	return w, nil
}
