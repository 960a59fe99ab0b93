package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	paypalEventSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	paypalEventSaleCompleted         = "PAYMENT.SALE.COMPLETED"
)

type paypalWebhookPayload struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                 string `json:"id"`
		CustomID           string `json:"custom_id"`
		Status             string `json:"status"`
		BillingAgreementID string `json:"billing_agreement_id"`
		Amount             struct {
			Total    string `json:"total"`
			Currency string `json:"currency"`
		} `json:"amount"`
	} `json:"resource"`
}

// InterpretWebhook normalizes one PayPal delivery. Authenticity comes from
// confirming the referenced subscription against the live API rather than
// trusting the delivered payload; the signature parameter is unused.
func (c *PayPalClient) InterpretWebhook(ctx context.Context, body []byte, signature string) (InterpretedEvent, error) {
	var payload paypalWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return InterpretedEvent{}, fmt.Errorf("%w: %v", ErrWebhookMalformed, err)
	}

	ev := InterpretedEvent{
		EventID:        payload.ID,
		EventType:      payload.EventType,
		SignatureValid: true,
	}
	if ev.EventID == "" {
		ev.EventID = eventFallbackID(body)
	}

	switch payload.EventType {
	case paypalEventSubscriptionActivated:
		return c.interpretActivated(ctx, payload, ev)
	case paypalEventSaleCompleted:
		return c.interpretSaleCompleted(ctx, payload, ev)
	default:
		ev.Action = Ignore("unsupported event type")
		return ev, nil
	}
}

func (c *PayPalClient) interpretActivated(ctx context.Context, payload paypalWebhookPayload, ev InterpretedEvent) (InterpretedEvent, error) {
	subID := strings.TrimSpace(payload.Resource.ID)
	if subID == "" {
		ev.Action = Ignore("activation event without subscription id")
		return ev, nil
	}

	sub, err := c.fetchSubscription(ctx, subID)
	if err != nil {
		return InterpretedEvent{}, err
	}
	if sub.Status != "ACTIVE" {
		ev.Action = Ignore("subscription is not active on the live API")
		return ev, nil
	}

	codec := c.codec()
	target, cycle, err := codec.Decode(strings.TrimSpace(sub.CustomID))
	if err != nil {
		ev.Action = Ignore("subscription carries no correlation token")
		return ev, nil
	}

	cents, err := centsFromAmount(sub.BillingInfo.LastPayment.Amount.Value)
	if err != nil {
		ev.Action = Ignore("activation without a parseable last payment amount")
		return ev, nil
	}

	snap := chargeSnapshot("paypal-act-"+subID, cents, sub.BillingInfo.LastPayment.Amount.CurrencyCode, cycle, sub.Subscriber.EmailAddress, time.Now())
	if next, perr := time.Parse(time.RFC3339, sub.BillingInfo.NextBillingTime); perr == nil {
		snap.NextBillingAt = &next
	}

	ev.Action = DomainAction{Kind: ActionActivate, Target: target, Snapshot: snap}
	return ev, nil
}

func (c *PayPalClient) interpretSaleCompleted(ctx context.Context, payload paypalWebhookPayload, ev InterpretedEvent) (InterpretedEvent, error) {
	subID := strings.TrimSpace(payload.Resource.BillingAgreementID)
	if subID == "" {
		ev.Action = Ignore("sale is not tied to a subscription")
		return ev, nil
	}

	sub, err := c.fetchSubscription(ctx, subID)
	if err != nil {
		return InterpretedEvent{}, err
	}

	codec := c.codec()
	target, cycle, err := codec.Decode(strings.TrimSpace(sub.CustomID))
	if err != nil {
		ev.Action = Ignore("subscription carries no correlation token")
		return ev, nil
	}

	cents, err := centsFromAmount(payload.Resource.Amount.Total)
	if err != nil {
		ev.Action = Ignore("sale without a parseable amount")
		return ev, nil
	}

	snap := chargeSnapshot("paypal-"+payload.Resource.ID, cents, payload.Resource.Amount.Currency, cycle, sub.Subscriber.EmailAddress, time.Now())
	if next, perr := time.Parse(time.RFC3339, sub.BillingInfo.NextBillingTime); perr == nil {
		snap.NextBillingAt = &next
	}

	ev.Action = DomainAction{Kind: ActionRenew, Target: target, Snapshot: snap}
	return ev, nil
}

func (c *PayPalClient) codec() *CorrelationCodec {
	if c.Codec != nil {
		return c.Codec
	}
	return NewCorrelationCodec("")
}

// centsFromAmount converts a decimal money string ("29.00") to the smallest
// currency unit.
func centsFromAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return d.Mul(decimal.NewFromInt(100)).IntPart(), nil
}
