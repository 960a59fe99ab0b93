package controllers

import (
	"errors"
	"log"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/HossamFares/Lernora/internal/pkg/cache"
	"github.com/HossamFares/Lernora/internal/pkg/database"
	"github.com/HossamFares/Lernora/internal/pkg/metrics/counter"
	"github.com/HossamFares/Lernora/internal/pkg/payment"
)

var (
	paymentService     *payment.Service
	paymentServiceOnce sync.Once

	// validate is shared across handlers; validator instances cache struct
	// metadata and are safe for concurrent use.
	validate = validator.New()
)

func getPaymentService() *payment.Service {
	paymentServiceOnce.Do(func() {
		if paymentService == nil {
			repo := payment.NewRepository(database.GetDB())
			locker := payment.NewRedisLocker(cache.GetClient())
			paymentService = payment.NewService(repo, locker)
		}
	})
	return paymentService
}

// SetPaymentService overrides the lazily built service, for tests.
func SetPaymentService(s *payment.Service) {
	paymentServiceOnce.Do(func() {})
	paymentService = s
}

type initiateSubscriptionRequest struct {
	Provider     string                 `json:"provider" validate:"required,oneof=paymob paypal"`
	BillingCycle string                 `json:"billing_cycle" validate:"required,oneof=month year"`
	Target       payment.SubscriptionTarget `json:"target"`
	Customer     payment.Customer       `json:"customer"`
	Address      payment.BillingAddress `json:"billing_address"`
}

// HandleInitiateSubscription starts a subscription checkout and returns the
// approval URL the client must redirect the payer to. Amounts are resolved
// server-side; the request never carries one.
func HandleInitiateSubscription(c *fiber.Ctx) error {
	var req initiateSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}
	if err := req.Target.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	session, err := getPaymentService().InitiateSubscription(
		c.UserContext(),
		req.Provider,
		req.Target,
		payment.BillingCycle(req.BillingCycle),
		req.Customer,
		req.Address,
	)
	if err != nil {
		return paymentErrorResponse(c, err)
	}
	if err := counter.AddCheckoutCreated(req.Provider); err != nil {
		log.Printf("checkout counter increment failed: %v", err)
	}

	return c.JSON(fiber.Map{
		"approval_url":             session.ApprovalURL,
		"external_subscription_id": session.ExternalSubscriptionID,
	})
}

type walletTopUpRequest struct {
	UserID      uint  `json:"user_id" validate:"required"`
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// HandleWalletTopUp creates a short-lived payment link crediting the user's
// wallet once the charge settles.
func HandleWalletTopUp(c *fiber.Ctx) error {
	var req walletTopUpRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	link, err := getPaymentService().CreateWalletTopUpLink(c.UserContext(), req.UserID, req.AmountCents)
	if err != nil {
		return paymentErrorResponse(c, err)
	}

	return c.JSON(link)
}

// HandlePaymobWebhook receives Paymob transaction and subscription
// callbacks. Paymob appends the hmac to the callback URL as a query value.
func HandlePaymobWebhook(c *fiber.Ctx) error {
	return handleProviderWebhook(c, payment.ProviderPaymob, c.Query("hmac"))
}

// HandlePayPalWebhook receives PayPal billing webhooks. Authenticity is
// established by confirming resources against the live API during
// interpretation, so no transport signature is forwarded.
func HandlePayPalWebhook(c *fiber.Ctx) error {
	return handleProviderWebhook(c, payment.ProviderPayPal, "")
}

func handleProviderWebhook(c *fiber.Ctx, provider, signature string) error {
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	if err := counter.AddWebhookReceived(provider); err != nil {
		log.Printf("webhook counter increment failed: %v", err)
	}

	if err := getPaymentService().HandleWebhook(c.UserContext(), provider, body, signature); err != nil {
		log.Printf("%s webhook from %s failed: %v", provider, GetClientIP(c), err)
		counter.AddWebhookFailed(provider)
		// Non-2xx makes the provider redeliver, which is what we want for
		// transient failures.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandlePaymentStats reports the Redis-backed payment counters.
func HandlePaymentStats(c *fiber.Ctx) error {
	snapshot, err := counter.Snapshot(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to read counters"})
	}
	return c.JSON(snapshot)
}

func paymentErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, payment.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.Is(err, payment.ErrInvalidPrice):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_price", "message": err.Error()})
	case payment.Retryable(err):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unavailable", "message": "Payment provider is temporarily unavailable"})
	case errors.Is(err, payment.ErrApprovalLinkMissing):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_response_invalid", "message": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to process payment request"})
	}
}
