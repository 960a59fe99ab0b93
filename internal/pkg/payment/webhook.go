package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/HossamFares/Lernora/app/models"
)

// WebhookProcessor is the single entry point for provider callbacks. Every
// delivery flows through the same pipeline: interpret, record, apply, mark.
// Events are recorded even when ignored, so operators can audit what a
// provider sent and why nothing happened.
type WebhookProcessor struct {
	repo         Repository
	applier      *Applier
	interpreters map[string]WebhookInterpreter

	// Notify, when set, is called after an action applied successfully.
	// Best effort; failures must not affect processing.
	Notify func(action DomainAction)
}

func NewWebhookProcessor(repo Repository, applier *Applier) *WebhookProcessor {
	return &WebhookProcessor{
		repo:         repo,
		applier:      applier,
		interpreters: make(map[string]WebhookInterpreter),
	}
}

// Register wires the interpreter handling deliveries for a provider.
func (p *WebhookProcessor) Register(provider string, interpreter WebhookInterpreter) {
	p.interpreters[provider] = interpreter
}

// Process handles one delivery. A nil return means the provider should be
// acknowledged; a non-nil return means the delivery should be retried.
func (p *WebhookProcessor) Process(ctx context.Context, provider string, body []byte, signature string) error {
	interpreter, ok := p.interpreters[provider]
	if !ok {
		return fmt.Errorf("no webhook interpreter registered for provider %q", provider)
	}

	ev, err := interpreter.InterpretWebhook(ctx, body, signature)
	if err != nil {
		if errors.Is(err, ErrWebhookMalformed) {
			return p.ackMalformed(ctx, provider, body, err)
		}
		// Transient interpretation failures (remote lookup outages) are not
		// recorded; the provider redelivers and we try again.
		return fmt.Errorf("interpret %s webhook: %w", provider, err)
	}

	record := &models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: ev.EventID,
		EventType:       ev.EventType,
		PayloadJSON:     string(body),
		SignatureValid:  ev.SignatureValid,
	}
	record, created, err := p.repo.InsertWebhookEvent(ctx, record)
	if err != nil {
		return fmt.Errorf("record %s webhook: %w", provider, err)
	}
	if !created && record.ProcessedAt != nil {
		log.Printf("[Payment] skipping already processed %s event %s", provider, ev.EventID)
		return nil
	}

	if ev.Action.Kind == ActionIgnore {
		if err := p.repo.MarkWebhookProcessed(ctx, record.ID, ev.Action.Reason); err != nil {
			return err
		}
		return nil
	}

	if err := p.applier.Apply(ctx, ev.Action); err != nil {
		if permanentApplyError(err) {
			log.Printf("[Payment] %s event %s not applicable: %v", provider, ev.EventID, err)
			return p.repo.MarkWebhookProcessed(ctx, record.ID, err.Error())
		}
		// Leave the event unprocessed so the redelivery retries the apply.
		return fmt.Errorf("apply %s event %s: %w", provider, ev.EventID, err)
	}

	if p.Notify != nil {
		go p.Notify(ev.Action)
	}
	return p.repo.MarkWebhookProcessed(ctx, record.ID, "")
}

// ackMalformed records an unparseable delivery and acknowledges it, so the
// provider stops redelivering a body that can never parse. The raw payload
// stays on the event row for operators to inspect.
func (p *WebhookProcessor) ackMalformed(ctx context.Context, provider string, body []byte, cause error) error {
	record := &models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventFallbackID(body),
		EventType:       "malformed",
		PayloadJSON:     string(body),
	}
	record, _, err := p.repo.InsertWebhookEvent(ctx, record)
	if err != nil {
		return fmt.Errorf("record malformed %s webhook: %w", provider, err)
	}
	log.Printf("[Payment] %s delivery unparseable: %v", provider, cause)
	return p.repo.MarkWebhookProcessed(ctx, record.ID, cause.Error())
}

// permanentApplyError reports whether retrying the apply can never succeed.
func permanentApplyError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrCorrelationDecode)
}

// eventFallbackID derives a stable dedup identity for payloads that carry no
// usable event id of their own.
func eventFallbackID(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha-" + hex.EncodeToString(sum[:8])
}
