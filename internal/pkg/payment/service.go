package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HossamFares/Lernora/internal/pkg/env"
	"github.com/HossamFares/Lernora/internal/pkg/mail"
)

const defaultWalletLinkTTL = 30 * time.Minute

// Service is the payment orchestrator: it resolves prices, provisions
// remote plans, starts checkouts and processes provider webhooks. All
// money amounts originate from local price records; client input never
// carries an amount.
type Service struct {
	repo     Repository
	pricing  *PricingResolver
	registry *RemotePlanRegistry
	codec    *CorrelationCodec
	applier  *Applier

	gateways  map[string]ProviderGateway
	processor *WebhookProcessor
	paymob    *PaymobClient

	walletCurrency string
	walletLinkTTL  time.Duration
}

// NewService wires the orchestrator from the environment. The locker
// serializes remote plan provisioning; pass a MemoryLocker when running
// without redis.
func NewService(repo Repository, locker Locker) *Service {
	codec := NewCorrelationCodec(env.GetEnv("PAYMENT_CORRELATION_SECRET", ""))
	paymob := NewPaymobClientFromEnv()
	paymob.Codec = codec
	paypal := NewPayPalClientFromEnv()
	paypal.Codec = codec

	applier := NewApplier(repo)
	processor := NewWebhookProcessor(repo, applier)
	processor.Register(ProviderPaymob, paymob)
	processor.Register(ProviderPayPal, paypal)
	processor.Notify = notifyByMail

	ttl := defaultWalletLinkTTL
	if minutes, err := strconv.Atoi(env.GetEnv("WALLET_LINK_TTL_MINUTES", "")); err == nil && minutes > 0 {
		ttl = time.Duration(minutes) * time.Minute
	}

	return &Service{
		repo:     repo,
		pricing:  NewPricingResolver(repo, env.GetEnv("DEFAULT_CURRENCY", "USD")),
		registry: NewRemotePlanRegistry(repo, locker, codec),
		codec:    codec,
		applier:  applier,
		gateways: map[string]ProviderGateway{
			ProviderPaymob: paymob,
			ProviderPayPal: paypal,
		},
		processor:      processor,
		paymob:         paymob,
		walletCurrency: "EGP",
		walletLinkTTL:  ttl,
	}
}

// Gateway returns the registered gateway for the provider name.
func (s *Service) Gateway(provider string) (ProviderGateway, bool) {
	gw, ok := s.gateways[provider]
	return gw, ok
}

// InitiateSubscription starts a checkout: it quotes the target locally,
// ensures the provider-side plan exists and creates the remote subscription.
// The returned session carries the URL to redirect the payer to.
func (s *Service) InitiateSubscription(ctx context.Context, provider string, target SubscriptionTarget, cycle BillingCycle, customer Customer, address BillingAddress) (CheckoutSession, error) {
	gateway, ok := s.gateways[provider]
	if !ok {
		return CheckoutSession{}, fmt.Errorf("unsupported payment provider %q", provider)
	}
	if err := target.Validate(); err != nil {
		return CheckoutSession{}, err
	}
	if !cycle.Valid() {
		return CheckoutSession{}, fmt.Errorf("unsupported billing cycle %q", cycle)
	}

	// The non-priced side of the target must exist too.
	switch target.Kind {
	case TargetOrganizationPlan:
		if _, err := s.repo.FindOrganization(ctx, target.OrganizationID); err != nil {
			return CheckoutSession{}, err
		}
	case TargetUserCourse:
		if _, err := s.repo.FindUser(ctx, target.UserID); err != nil {
			return CheckoutSession{}, err
		}
	}

	quote, err := s.pricing.Quote(ctx, target, cycle)
	if err != nil {
		return CheckoutSession{}, err
	}

	plan, err := s.registry.Ensure(ctx, gateway, target.Entity(), cycle, quote)
	if err != nil {
		return CheckoutSession{}, err
	}

	correlation, err := s.codec.Encode(target, cycle, provider)
	if err != nil {
		return CheckoutSession{}, err
	}

	return gateway.CreateSubscription(ctx, plan, quote, customer, address, correlation)
}

// CreateWalletTopUpLink creates a short-lived one-off payment link crediting
// the user's wallet once the charge settles. Top-ups always run through the
// local card provider in the wallet currency.
func (s *Service) CreateWalletTopUpLink(ctx context.Context, userID uint, amountCents int64) (PaymentLink, error) {
	if amountCents <= 0 {
		return PaymentLink{}, fmt.Errorf("%w: top-up amount must be positive", ErrInvalidPrice)
	}

	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		return PaymentLink{}, err
	}
	wallet, err := s.repo.EnsureWallet(ctx, user.ID, user.Email, s.walletCurrency)
	if err != nil {
		return PaymentLink{}, err
	}

	first, last := splitName(user.Name)
	customer := Customer{
		FirstName: first,
		LastName:  last,
		Email:     wallet.BillingEmail,
	}
	reference := walletReferencePrefix + uuid.NewString()

	return s.paymob.CreateWalletIntention(ctx, QuoteFromCents(amountCents, s.walletCurrency), customer, reference, s.walletLinkTTL)
}

// HandleWebhook runs one provider delivery through the processing pipeline.
func (s *Service) HandleWebhook(ctx context.Context, provider string, body []byte, signature string) error {
	return s.processor.Process(ctx, provider, body, signature)
}

// notifyByMail emails the payer a confirmation once a charge has been
// applied. Errors are logged inside the mailer and otherwise ignored.
func notifyByMail(action DomainAction) {
	email := action.Snapshot.PayerEmail
	if email == "" {
		email = action.WalletEmail
	}
	if email == "" {
		return
	}

	amount := QuoteFromCents(action.Snapshot.AmountCents, action.Snapshot.Currency)
	var subject, body string
	switch action.Kind {
	case ActionActivate:
		subject = "Your subscription is active"
		body = fmt.Sprintf("<p>Your subscription is now active. We received %s %s.</p>", amount.AmountString(), amount.Currency)
	case ActionRenew:
		subject = "Your subscription was renewed"
		body = fmt.Sprintf("<p>Your subscription was renewed. We received %s %s.</p>", amount.AmountString(), amount.Currency)
	case ActionCreditWallet:
		credit := QuoteFromCents(action.AmountCents, action.Currency)
		subject = "Your wallet was topped up"
		body = fmt.Sprintf("<p>Your wallet was credited with %s %s.</p>", credit.AmountString(), credit.Currency)
	default:
		return
	}

	_ = mail.SendMail(email, subject, body)
}

func splitName(name string) (string, string) {
	parts := strings.Fields(strings.TrimSpace(name))
	switch len(parts) {
	case 0:
		return "-", "-"
	case 1:
		return parts[0], "-"
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
