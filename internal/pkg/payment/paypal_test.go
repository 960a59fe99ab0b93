package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPayPalClient(serverURL string) *PayPalClient {
	return &PayPalClient{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		BrandName:    "Lernora",
		ReturnURL:    "https://lernora.test/payments/paypal/return",
		CancelURL:    "https://lernora.test/payments/paypal/cancel",
		BaseURL:      serverURL,
		Codec:        NewCorrelationCodec("test-secret"),
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
	}
}

func paypalTokenHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("oauth basic auth: %q %q", user, pass)
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "oauth-token", "expires_in": 3600})
	}
}

func TestPayPalEnsurePlanCreatesProductAndPlan(t *testing.T) {
	var productCalls, planCreates int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", paypalTokenHandler(t))
	mux.HandleFunc("/v1/billing/plans", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer oauth-token" {
			t.Errorf("plan call auth header: %q", got)
		}
		if r.Method == http.MethodPost {
			atomic.AddInt32(&planCreates, 1)
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			cycles, _ := body["billing_cycles"].([]any)
			if len(cycles) != 1 {
				t.Fatalf("billing_cycles: %v", body["billing_cycles"])
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "P-1", "product_id": "PROD-1", "name": body["name"].(string), "status": "ACTIVE"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"plans": []any{}, "links": []any{}})
	})
	mux.HandleFunc("/v1/catalogs/products", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&productCalls, 1)
		json.NewEncoder(w).Encode(map[string]string{"id": "PROD-1"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestPayPalClient(server.URL)
	plan, err := client.EnsurePlan(context.Background(), "LRNP1.xyz", CycleYearly, QuoteFromCents(29900, "USD"))
	if err != nil {
		t.Fatalf("EnsurePlan failed: %v", err)
	}
	if plan.PlanID != "P-1" || plan.ProductID != "PROD-1" {
		t.Errorf("unexpected plan: %+v", plan)
	}
	if productCalls != 1 || planCreates != 1 {
		t.Errorf("calls: product=%d plan=%d", productCalls, planCreates)
	}
}

func TestPayPalEnsurePlanReusesActiveMatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", paypalTokenHandler(t))
	mux.HandleFunc("/v1/billing/plans", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			t.Error("unexpected plan create")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"plans": []map[string]string{
				{"id": "P-old", "product_id": "PROD-old", "name": "LRNP1.xyz", "status": "INACTIVE"},
				{"id": "P-2", "product_id": "PROD-2", "name": "LRNP1.xyz", "status": "ACTIVE"},
			},
			"links": []any{},
		})
	})
	mux.HandleFunc("/v1/catalogs/products", func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected product create")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestPayPalClient(server.URL)
	plan, err := client.EnsurePlan(context.Background(), "LRNP1.xyz", CycleYearly, QuoteFromCents(29900, "USD"))
	if err != nil {
		t.Fatalf("EnsurePlan failed: %v", err)
	}
	if plan.PlanID != "P-2" {
		t.Errorf("plan id: got %q want P-2", plan.PlanID)
	}
}

func TestPayPalCreateSubscription(t *testing.T) {
	var gotCustomID string

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", paypalTokenHandler(t))
	mux.HandleFunc("/v1/billing/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotCustomID, _ = body["custom_id"].(string)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "I-SUB1",
			"links": []map[string]string{
				{"href": "https://paypal.test/approve/I-SUB1", "rel": "approve"},
				{"href": "https://paypal.test/self", "rel": "self"},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestPayPalClient(server.URL)
	token, err := client.Codec.Encode(OrganizationPlanTarget(1, 2), CycleMonthly, ProviderPayPal)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	session, err := client.CreateSubscription(
		context.Background(),
		RemotePlan{Provider: ProviderPayPal, PlanID: "P-1"},
		QuoteFromCents(2900, "USD"),
		Customer{FirstName: "Omar", LastName: "Aly", Email: "omar@example.com"},
		BillingAddress{},
		token,
	)
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	if session.ApprovalURL != "https://paypal.test/approve/I-SUB1" {
		t.Errorf("approval url: %q", session.ApprovalURL)
	}
	if session.ExternalSubscriptionID != "I-SUB1" {
		t.Errorf("subscription id: %q", session.ExternalSubscriptionID)
	}
	if gotCustomID != token {
		t.Errorf("custom_id: got %q want the correlation token", gotCustomID)
	}
	if len(gotCustomID) > 127 {
		t.Errorf("custom_id exceeds 127 chars: %d", len(gotCustomID))
	}
}

func TestPayPalCreateSubscriptionMissingApprovalLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", paypalTokenHandler(t))
	mux.HandleFunc("/v1/billing/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "I-SUB2",
			"links": []map[string]string{{"href": "https://paypal.test/self", "rel": "self"}},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestPayPalClient(server.URL)
	_, err := client.CreateSubscription(
		context.Background(),
		RemotePlan{Provider: ProviderPayPal, PlanID: "P-1"},
		QuoteFromCents(2900, "USD"),
		Customer{FirstName: "Omar", LastName: "Aly", Email: "omar@example.com"},
		BillingAddress{},
		"LRN1E.x",
	)
	if !errors.Is(err, ErrApprovalLinkMissing) {
		t.Fatalf("expected ErrApprovalLinkMissing, got %v", err)
	}
}

func paypalSubscriptionHandler(t *testing.T, customID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"id": "I-SUB1",
			"status": "ACTIVE",
			"custom_id": %q,
			"billing_info": {
				"next_billing_time": "2026-09-30T10:00:00Z",
				"last_payment": {"amount": {"currency_code": "USD", "value": "29.00"}}
			},
			"subscriber": {"email_address": "omar@example.com"}
		}`, customID)
	}
}

func TestPayPalInterpretActivated(t *testing.T) {
	codec := NewCorrelationCodec("test-secret")
	token, err := codec.Encode(OrganizationPlanTarget(1, 2), CycleMonthly, ProviderPayPal)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", paypalTokenHandler(t))
	mux.HandleFunc("/v1/billing/subscriptions/I-SUB1", paypalSubscriptionHandler(t, token))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestPayPalClient(server.URL)
	body := `{"id": "WH-1", "event_type": "BILLING.SUBSCRIPTION.ACTIVATED", "resource": {"id": "I-SUB1"}}`

	ev, err := client.InterpretWebhook(context.Background(), []byte(body), "")
	if err != nil {
		t.Fatalf("InterpretWebhook failed: %v", err)
	}
	if ev.EventID != "WH-1" {
		t.Errorf("event id: %q", ev.EventID)
	}
	if ev.Action.Kind != ActionActivate {
		t.Fatalf("action: got %q want activate", ev.Action.Kind)
	}
	if ev.Action.Target != OrganizationPlanTarget(1, 2) {
		t.Errorf("target: %+v", ev.Action.Target)
	}
	snap := ev.Action.Snapshot
	if snap.TransactionID != "paypal-act-I-SUB1" || snap.AmountCents != 2900 || snap.Currency != "USD" {
		t.Errorf("snapshot: %+v", snap)
	}
	if snap.NextBillingAt == nil || !snap.NextBillingAt.Equal(time.Date(2026, 9, 30, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("next billing: %v", snap.NextBillingAt)
	}
}

func TestPayPalInterpretSaleCompletedRenews(t *testing.T) {
	codec := NewCorrelationCodec("test-secret")
	token, err := codec.Encode(UserCourseTarget(4, 9), CycleMonthly, ProviderPayPal)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", paypalTokenHandler(t))
	mux.HandleFunc("/v1/billing/subscriptions/I-SUB1", paypalSubscriptionHandler(t, token))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestPayPalClient(server.URL)
	body := `{
		"id": "WH-2",
		"event_type": "PAYMENT.SALE.COMPLETED",
		"resource": {
			"id": "SALE-7",
			"billing_agreement_id": "I-SUB1",
			"amount": {"total": "15.00", "currency": "USD"}
		}
	}`

	ev, err := client.InterpretWebhook(context.Background(), []byte(body), "")
	if err != nil {
		t.Fatalf("InterpretWebhook failed: %v", err)
	}
	if ev.Action.Kind != ActionRenew {
		t.Fatalf("action: got %q want renew", ev.Action.Kind)
	}
	if ev.Action.Target != UserCourseTarget(4, 9) {
		t.Errorf("target: %+v", ev.Action.Target)
	}
	if ev.Action.Snapshot.TransactionID != "paypal-SALE-7" || ev.Action.Snapshot.AmountCents != 1500 {
		t.Errorf("snapshot: %+v", ev.Action.Snapshot)
	}
}

func TestPayPalInterpretUnknownEventIgnored(t *testing.T) {
	client := newTestPayPalClient("http://unused.invalid")
	body := `{"id": "WH-3", "event_type": "BILLING.SUBSCRIPTION.CANCELLED", "resource": {"id": "I-SUB1"}}`

	ev, err := client.InterpretWebhook(context.Background(), []byte(body), "")
	if err != nil {
		t.Fatalf("InterpretWebhook failed: %v", err)
	}
	if ev.Action.Kind != ActionIgnore {
		t.Errorf("action: got %q want ignore", ev.Action.Kind)
	}
}
