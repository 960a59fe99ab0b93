package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	paymobEventTransaction = "TRANSACTION"

	paymobTriggerSubscriptionCreated = "subscription_created"
	paymobTriggerRenewal             = "renewal"
)

type paymobTransactionObj struct {
	ID                   int64       `json:"id"`
	Success              bool        `json:"success"`
	Pending              bool        `json:"pending"`
	IsRefund             bool        `json:"is_refund"`
	IsRefunded           bool        `json:"is_refunded"`
	IsVoided             bool        `json:"is_voided"`
	Is3DSecure           bool        `json:"is_3d_secure"`
	IsAuth               bool        `json:"is_auth"`
	IsCapture            bool        `json:"is_capture"`
	IsStandalonePayment  bool        `json:"is_standalone_payment"`
	ErrorOccured         bool        `json:"error_occured"`
	HasParentTransaction bool        `json:"has_parent_transaction"`
	AmountCents          int64       `json:"amount_cents"`
	Currency             string      `json:"currency"`
	CreatedAt            string      `json:"created_at"`
	IntegrationID        json.Number `json:"integration_id"`
	Owner                json.Number `json:"owner"`
	Order                struct {
		ID              json.Number `json:"id"`
		MerchantOrderID string      `json:"merchant_order_id"`
	} `json:"order"`
	SourceData struct {
		Pan     string `json:"pan"`
		SubType string `json:"sub_type"`
		Type    string `json:"type"`
	} `json:"source_data"`
	PaymentKeyClaims struct {
		BillingData struct {
			Email string `json:"email"`
		} `json:"billing_data"`
	} `json:"payment_key_claims"`
}

type paymobWebhookPayload struct {
	Type             string               `json:"type"`
	TriggerType      string               `json:"trigger_type"`
	TransactionID    int64                `json:"transaction_id"`
	Obj              paymobTransactionObj `json:"obj"`
	SubscriptionData struct {
		ID int64 `json:"id"`
	} `json:"subscription_data"`
}

// InterpretWebhook normalizes one Paymob delivery. The signature parameter
// is the hmac query value Paymob appends to the callback URL.
func (c *PaymobClient) InterpretWebhook(ctx context.Context, body []byte, signature string) (InterpretedEvent, error) {
	codec := c.Codec
	if codec == nil {
		codec = NewCorrelationCodec("")
	}
	var payload paymobWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return InterpretedEvent{}, fmt.Errorf("%w: %v", ErrWebhookMalformed, err)
	}

	switch {
	case payload.Type == paymobEventTransaction:
		return c.interpretTransaction(payload, signature, codec)
	case payload.TriggerType == paymobTriggerRenewal:
		return c.interpretSubscriptionTrigger(ctx, payload, ActionRenew, codec)
	case payload.TriggerType == paymobTriggerSubscriptionCreated:
		// The first charge usually also arrives as a TRANSACTION event;
		// transaction-id dedup collapses the overlap.
		return c.interpretSubscriptionTrigger(ctx, payload, ActionActivate, codec)
	default:
		return InterpretedEvent{
			EventID:        eventFallbackID(body),
			EventType:      firstNonEmpty(payload.Type, payload.TriggerType, "unknown"),
			SignatureValid: true,
			Action:         Ignore("unsupported event type"),
		}, nil
	}
}

func (c *PaymobClient) interpretTransaction(payload paymobWebhookPayload, signature string, codec *CorrelationCodec) (InterpretedEvent, error) {
	obj := payload.Obj
	ev := InterpretedEvent{
		EventID:        "txn-" + strconv.FormatInt(obj.ID, 10),
		EventType:      paymobEventTransaction,
		SignatureValid: c.verifyTransactionHMAC(obj, signature),
	}
	if !ev.SignatureValid {
		ev.Action = Ignore("hmac verification failed")
		return ev, nil
	}
	if !obj.Success || obj.Pending || obj.IsRefund || obj.IsVoided {
		ev.Action = Ignore("transaction not a settled charge")
		return ev, nil
	}

	reference := strings.TrimSpace(obj.Order.MerchantOrderID)
	snapshotID := "paymob-" + strconv.FormatInt(obj.ID, 10)

	if strings.HasPrefix(reference, walletReferencePrefix) {
		email := strings.TrimSpace(obj.PaymentKeyClaims.BillingData.Email)
		ev.Action = DomainAction{
			Kind:        ActionCreditWallet,
			WalletEmail: email,
			AmountCents: obj.AmountCents,
			Currency:    obj.Currency,
			Snapshot:    BillingSnapshot{TransactionID: snapshotID, AmountCents: obj.AmountCents, Currency: obj.Currency, PayerEmail: email},
		}
		return ev, nil
	}

	target, cycle, err := codec.Decode(reference)
	if err != nil {
		ev.Action = Ignore("merchant reference is not a correlation token")
		return ev, nil
	}
	ev.Action = DomainAction{
		Kind:     ActionActivate,
		Target:   target,
		Snapshot: chargeSnapshot(snapshotID, obj.AmountCents, obj.Currency, cycle, obj.PaymentKeyClaims.BillingData.Email, time.Now()),
	}
	return ev, nil
}

// interpretSubscriptionTrigger maps a subscription lifecycle trigger back to
// its target by looking the charging transaction up and decoding its
// merchant reference. The webhook body alone is not self-sufficient.
func (c *PaymobClient) interpretSubscriptionTrigger(ctx context.Context, payload paymobWebhookPayload, kind ActionKind, codec *CorrelationCodec) (InterpretedEvent, error) {
	ev := InterpretedEvent{
		EventID:        fmt.Sprintf("sub-%d-%d", payload.SubscriptionData.ID, payload.TransactionID),
		EventType:      payload.TriggerType,
		SignatureValid: true,
	}
	if payload.TransactionID == 0 {
		ev.Action = Ignore("subscription trigger without transaction id")
		return ev, nil
	}

	txn, err := c.fetchTransaction(ctx, payload.TransactionID)
	if err != nil {
		return InterpretedEvent{}, err
	}
	if !txn.Success {
		ev.Action = Ignore("subscription charge not successful")
		return ev, nil
	}

	target, cycle, err := codec.Decode(strings.TrimSpace(txn.Order.MerchantOrderID))
	if err != nil {
		ev.Action = Ignore("subscription charge carries no correlation token")
		return ev, nil
	}
	ev.Action = DomainAction{
		Kind:     kind,
		Target:   target,
		Snapshot: chargeSnapshot("paymob-"+strconv.FormatInt(txn.ID, 10), txn.AmountCents, txn.Currency, cycle, txn.PaymentKeyClaims.BillingData.Email, time.Now()),
	}
	return ev, nil
}

func (c *PaymobClient) fetchTransaction(ctx context.Context, id int64) (*paymobTransactionObj, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	var out paymobTransactionObj
	url := fmt.Sprintf("%s/api/acceptance/transactions/%d", c.BaseURL, id)
	if err := getJSON(ctx, c.HTTPClient, url, headers, &out); err != nil {
		return nil, fmt.Errorf("transaction lookup failed: %w", err)
	}
	return &out, nil
}

// verifyTransactionHMAC checks the HMAC-SHA512 over the documented field
// concatenation (lexical field order). An empty configured secret disables
// verification, for local development against the sandbox.
func (c *PaymobClient) verifyTransactionHMAC(obj paymobTransactionObj, signature string) bool {
	if c.HMACSecret == "" {
		return true
	}
	sig := strings.TrimSpace(signature)
	if sig == "" {
		return false
	}

	b := func(v bool) string { return strconv.FormatBool(v) }
	concat := strings.Join([]string{
		strconv.FormatInt(obj.AmountCents, 10),
		obj.CreatedAt,
		obj.Currency,
		b(obj.ErrorOccured),
		b(obj.HasParentTransaction),
		strconv.FormatInt(obj.ID, 10),
		obj.IntegrationID.String(),
		b(obj.Is3DSecure),
		b(obj.IsAuth),
		b(obj.IsCapture),
		b(obj.IsRefunded),
		b(obj.IsStandalonePayment),
		b(obj.IsVoided),
		obj.Order.ID.String(),
		obj.Owner.String(),
		b(obj.Pending),
		obj.SourceData.Pan,
		obj.SourceData.SubType,
		obj.SourceData.Type,
		b(obj.Success),
	}, "")

	mac := hmac.New(sha512.New, []byte(c.HMACSecret))
	mac.Write([]byte(concat))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig)))
}

// chargeSnapshot derives the billing window of a settled charge.
func chargeSnapshot(transactionID string, amountCents int64, currency string, cycle BillingCycle, payerEmail string, now time.Time) BillingSnapshot {
	next := now.AddDate(0, 0, cycle.FrequencyDays())
	return BillingSnapshot{
		TransactionID: transactionID,
		AmountCents:   amountCents,
		Currency:      currency,
		Cycle:         cycle,
		PayerEmail:    strings.TrimSpace(payerEmail),
		StartsAt:      &now,
		NextBillingAt: &next,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
