package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	gatewayTimeout   = 15 * time.Second
	maxResponseBytes = 1 << 20
)

// ProviderGateway is the uniform surface the orchestrator drives. Each
// implementation wraps one provider's HTTP API; provider-specific shapes
// never leak past it.
type ProviderGateway interface {
	// Name returns the provider identifier used in plan refs and routes.
	Name() string

	// EnsurePlan finds or creates the provider-side recurring plan for the
	// entity and cycle. The name is the deterministic entity token used to
	// match existing plans in listings; a plan found by name is reused, so
	// calling EnsurePlan again never duplicates remote state.
	EnsurePlan(ctx context.Context, name string, cycle BillingCycle, quote PriceQuote) (RemotePlan, error)

	// CreateSubscription starts a checkout for the plan and returns the URL
	// to redirect the payer to. The correlation token travels to the
	// provider and comes back on webhooks.
	CreateSubscription(ctx context.Context, plan RemotePlan, quote PriceQuote, customer Customer, address BillingAddress, correlation string) (CheckoutSession, error)
}

// InterpretedEvent is a provider webhook normalized for processing: dedup
// identity, signature verdict and the domain action to apply.
type InterpretedEvent struct {
	EventID        string
	EventType      string
	SignatureValid bool
	Action         DomainAction
}

// WebhookInterpreter translates one raw webhook delivery into an
// InterpretedEvent. Interpretation may call back into the provider's API
// (transaction or subscription lookups) but never mutates local state.
type WebhookInterpreter interface {
	InterpretWebhook(ctx context.Context, body []byte, signature string) (InterpretedEvent, error)
}

// postJSON issues a JSON POST and decodes the response body into out.
// Non-2xx statuses are returned as errors carrying the status code and a
// truncated body excerpt.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(client, req, out)
}

// getJSON issues a GET and decodes the response body into out.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(client, req, out)
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &gatewayStatusError{Status: resp.StatusCode, Body: excerpt(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// gatewayStatusError carries the HTTP status of a failed gateway call so
// callers can distinguish auth failures from the rest.
type gatewayStatusError struct {
	Status int
	Body   string
}

func (e *gatewayStatusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Body)
}

func excerpt(raw []byte) string {
	const max = 256
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
