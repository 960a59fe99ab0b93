package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/HossamFares/Lernora/app/models"
)

// Repository is the persistence surface of the payment core. The mutating
// methods each run in one database transaction and are idempotent by
// provider transaction id, so a redelivered webhook applies at most once.
type Repository interface {
	FindCourse(ctx context.Context, id uint) (*models.Course, error)
	FindOrganization(ctx context.Context, id uint) (*models.Organization, error)
	FindOrganizationPlan(ctx context.Context, id uint) (*models.OrganizationPlan, error)
	FindUser(ctx context.Context, id uint) (*models.User, error)

	FindRemotePlanRef(ctx context.Context, entity PlanEntity, provider string, cycle BillingCycle) (*models.RemotePlanRef, error)
	UpsertRemotePlanRef(ctx context.Context, entity PlanEntity, provider string, cycle BillingCycle, plan RemotePlan) (*models.RemotePlanRef, error)

	InsertWebhookEvent(ctx context.Context, event *models.PaymentWebhookEvent) (*models.PaymentWebhookEvent, bool, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error

	ActivateOrganizationSubscription(ctx context.Context, organizationID, planID uint, snap BillingSnapshot) error
	RenewOrganizationSubscription(ctx context.Context, organizationID uint, snap BillingSnapshot) error
	ActivateEnrollment(ctx context.Context, userID, courseID uint, snap BillingSnapshot) error
	RenewEnrollment(ctx context.Context, userID, courseID uint, snap BillingSnapshot) error
	CreditWalletByEmail(ctx context.Context, email string, amountCents int64, currency, transactionID, memo string) error
	EnsureWallet(ctx context.Context, userID uint, billingEmail, currency string) (*models.Wallet, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindCourse(ctx context.Context, id uint) (*models.Course, error) {
	var course models.Course
	err := r.db.WithContext(ctx).Preload("Prices").First(&course, id).Error
	if err != nil {
		return nil, notFoundOr(err, "course %d", id)
	}
	return &course, nil
}

func (r *gormRepository) FindOrganization(ctx context.Context, id uint) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.WithContext(ctx).First(&org, id).Error; err != nil {
		return nil, notFoundOr(err, "organization %d", id)
	}
	return &org, nil
}

func (r *gormRepository) FindOrganizationPlan(ctx context.Context, id uint) (*models.OrganizationPlan, error) {
	var plan models.OrganizationPlan
	if err := r.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return nil, notFoundOr(err, "organization plan %d", id)
	}
	return &plan, nil
}

func (r *gormRepository) FindUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFoundOr(err, "user %d", id)
	}
	return &user, nil
}

func (r *gormRepository) FindRemotePlanRef(ctx context.Context, entity PlanEntity, provider string, cycle BillingCycle) (*models.RemotePlanRef, error) {
	var ref models.RemotePlanRef
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND provider = ? AND billing_cycle = ?", entity.Type, entity.ID, provider, string(cycle)).
		First(&ref).Error
	if err != nil {
		return nil, notFoundOr(err, "plan ref for %s %d on %s", entity.Type, entity.ID, provider)
	}
	return &ref, nil
}

// UpsertRemotePlanRef persists the plan ref, keeping the first writer's row
// when two provisioners race. The returned ref is the persisted one either
// way.
func (r *gormRepository) UpsertRemotePlanRef(ctx context.Context, entity PlanEntity, provider string, cycle BillingCycle, plan RemotePlan) (*models.RemotePlanRef, error) {
	ref := models.RemotePlanRef{
		EntityType:        entity.Type,
		EntityID:          entity.ID,
		Provider:          provider,
		BillingCycle:      string(cycle),
		ExternalPlanID:    plan.PlanID,
		ExternalProductID: plan.ProductID,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "entity_type"}, {Name: "entity_id"}, {Name: "provider"}, {Name: "billing_cycle"},
		},
		DoNothing: true,
	}).Create(&ref).Error
	if err != nil {
		return nil, err
	}
	return r.FindRemotePlanRef(ctx, entity, provider, cycle)
}

// InsertWebhookEvent stores the raw delivery, deduplicated on the provider's
// event id. The second return reports whether this delivery was new.
func (r *gormRepository) InsertWebhookEvent(ctx context.Context, event *models.PaymentWebhookEvent) (*models.PaymentWebhookEvent, bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return event, true, nil
	}

	var existing models.PaymentWebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"processed_at": &now, "processing_error": processingError}).Error
}

var orgSubscriptionSnapshotColumns = []string{
	"plan_id", "status", "transaction_id", "amount_cents", "currency",
	"billing_cycle", "payer_email", "starts_at", "next_billing_at", "ends_at",
}

func (r *gormRepository) ActivateOrganizationSubscription(ctx context.Context, organizationID, planID uint, snap BillingSnapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := transactionApplied(tx, &models.OrganizationSubscription{}, snap.TransactionID)
		if err != nil || applied {
			return err
		}
		if err := mustExist(tx, &models.Organization{}, organizationID, "organization"); err != nil {
			return err
		}
		if err := mustExist(tx, &models.OrganizationPlan{}, planID, "organization plan"); err != nil {
			return err
		}

		sub := models.OrganizationSubscription{
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
			EndsAt:         snap.EndsAt,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}},
			DoUpdates: clause.AssignmentColumns(orgSubscriptionSnapshotColumns),
		}).Create(&sub).Error
	})
}

func (r *gormRepository) RenewOrganizationSubscription(ctx context.Context, organizationID uint, snap BillingSnapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := transactionApplied(tx, &models.OrganizationSubscription{}, snap.TransactionID)
		if err != nil || applied {
			return err
		}

		var sub models.OrganizationSubscription
		if err := tx.Where("organization_id = ?", organizationID).First(&sub).Error; err != nil {
			return notFoundOr(err, "subscription for organization %d", organizationID)
		}
		return tx.Model(&sub).Updates(map[string]any{
			"status":          models.OrgSubscriptionStatusActive,
			"transaction_id":  snap.TransactionID,
			"amount_cents":    snap.AmountCents,
			"currency":        snap.Currency,
			"billing_cycle":   string(snap.Cycle),
			"payer_email":     snap.PayerEmail,
			"next_billing_at": snap.NextBillingAt,
			"ends_at":         snap.EndsAt,
		}).Error
	})
}

var enrollmentSnapshotColumns = []string{
	"access_type", "status", "transaction_id", "amount_cents", "currency",
	"billing_cycle", "payer_email", "starts_at", "next_billing_at", "ends_at",
}

func (r *gormRepository) ActivateEnrollment(ctx context.Context, userID, courseID uint, snap BillingSnapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := transactionApplied(tx, &models.Enrollment{}, snap.TransactionID)
		if err != nil || applied {
			return err
		}
		if err := mustExist(tx, &models.User{}, userID, "user"); err != nil {
			return err
		}
		if err := mustExist(tx, &models.Course{}, courseID, "course"); err != nil {
			return err
		}

		enrollment := models.Enrollment{
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
			EndsAt:        snap.EndsAt,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
			DoUpdates: clause.AssignmentColumns(enrollmentSnapshotColumns),
		}).Create(&enrollment).Error
	})
}

func (r *gormRepository) RenewEnrollment(ctx context.Context, userID, courseID uint, snap BillingSnapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := transactionApplied(tx, &models.Enrollment{}, snap.TransactionID)
		if err != nil || applied {
			return err
		}

		var enrollment models.Enrollment
		if err := tx.Where("user_id = ? AND course_id = ?", userID, courseID).First(&enrollment).Error; err != nil {
			return notFoundOr(err, "enrollment for user %d course %d", userID, courseID)
		}
		return tx.Model(&enrollment).Updates(map[string]any{
			"status":          models.EnrollmentStatusActive,
			"transaction_id":  snap.TransactionID,
			"amount_cents":    snap.AmountCents,
			"currency":        snap.Currency,
			"billing_cycle":   string(snap.Cycle),
			"payer_email":     snap.PayerEmail,
			"next_billing_at": snap.NextBillingAt,
			"ends_at":         snap.EndsAt,
		}).Error
	})
}

// CreditWalletByEmail credits the wallet located by the payer's billing
// email. The ledger row's unique transaction id makes redelivered webhooks
// a no-op.
func (r *gormRepository) CreditWalletByEmail(ctx context.Context, email string, amountCents int64, currency, transactionID, memo string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet models.Wallet
		if err := tx.Where("billing_email = ?", email).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: no wallet for %s", ErrWalletNotFound, email)
			}
			return err
		}
		if wallet.Currency != currency {
			return fmt.Errorf("%w: wallet holds %s, charge is %s", ErrCurrencyMismatch, wallet.Currency, currency)
		}

		ledger := models.WalletTransaction{
			WalletID:      wallet.ID,
			Type:          models.WalletTransactionCredit,
			AmountCents:   amountCents,
			Currency:      currency,
			TransactionID: transactionID,
			Memo:          memo,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).Create(&ledger)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already credited by an earlier delivery.
			return nil
		}

		return tx.Model(&models.Wallet{}).Where("id = ?", wallet.ID).
			Update("balance_cents", gorm.Expr("balance_cents + ?", amountCents)).Error
	})
}

// EnsureWallet returns the user's wallet, creating it on first use with the
// billing email top-up webhooks will be matched against.
func (r *gormRepository) EnsureWallet(ctx context.Context, userID uint, billingEmail, currency string) (*models.Wallet, error) {
	wallet := models.Wallet{
		UserID:       userID,
		BillingEmail: billingEmail,
		Currency:     currency,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&wallet).Error
	if err != nil {
		return nil, err
	}

	var persisted models.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&persisted).Error; err != nil {
		return nil, err
	}
	return &persisted, nil
}

func transactionApplied(tx *gorm.DB, model any, transactionID string) (bool, error) {
	if transactionID == "" {
		return false, errors.New("billing snapshot without transaction id")
	}
	var count int64
	if err := tx.Model(model).Where("transaction_id = ?", transactionID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func mustExist(tx *gorm.DB, model any, id uint, label string) error {
	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, label, id)
	}
	return nil
}

func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
