package payment

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HossamFares/Lernora/internal/pkg/env"
)

const (
	defaultPaymobBaseURL     = "https://accept.paymob.com"
	defaultPaymobCheckoutURL = "https://accept.paymob.com/unifiedcheckout/"

	// Auth tokens are valid for one hour; refresh well before that.
	paymobTokenLifetime = 50 * time.Minute

	walletReferencePrefix = "wallet:"
)

// PaymobClient drives Paymob's Accept API: short-lived token auth,
// subscription plans and payment intentions. It implements ProviderGateway
// and WebhookInterpreter.
type PaymobClient struct {
	APIKey        string
	SecretKey     string
	PublicKey     string
	IntegrationID int
	HMACSecret    string

	BaseURL     string
	CheckoutURL string

	Codec      *CorrelationCodec
	HTTPClient *http.Client

	mu         sync.Mutex
	authToken  string
	tokenValid time.Time
}

func NewPaymobClientFromEnv() *PaymobClient {
	integrationID, _ := strconv.Atoi(strings.TrimSpace(env.GetEnv("PAYMOB_INTEGRATION_ID", "0")))

	return &PaymobClient{
		APIKey:        strings.TrimSpace(env.GetEnv("PAYMOB_API_KEY", "")),
		SecretKey:     strings.TrimSpace(env.GetEnv("PAYMOB_SECRET_KEY", "")),
		PublicKey:     strings.TrimSpace(env.GetEnv("PAYMOB_PUBLIC_KEY", "")),
		IntegrationID: integrationID,
		HMACSecret:    strings.TrimSpace(env.GetEnv("PAYMOB_HMAC_SECRET", "")),
		BaseURL:       strings.TrimRight(env.GetEnv("PAYMOB_BASE_URL", defaultPaymobBaseURL), "/"),
		CheckoutURL:   strings.TrimSpace(env.GetEnv("PAYMOB_CHECKOUT_URL", defaultPaymobCheckoutURL)),
		Codec:         NewCorrelationCodec(env.GetEnv("PAYMENT_CORRELATION_SECRET", "")),
		HTTPClient: &http.Client{
			Timeout: gatewayTimeout,
		},
	}
}

func (c *PaymobClient) Name() string {
	return ProviderPaymob
}

// token returns a cached auth token, exchanging the API key when the cached
// one is missing or near expiry.
func (c *PaymobClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authToken != "" && time.Now().Before(c.tokenValid) {
		return c.authToken, nil
	}
	if c.APIKey == "" {
		return "", fmt.Errorf("%w: PAYMOB_API_KEY is not configured", ErrGatewayAuth)
	}

	var out struct {
		Token string `json:"token"`
	}
	err := postJSON(ctx, c.HTTPClient, c.BaseURL+"/api/auth/tokens", nil, map[string]string{"api_key": c.APIKey}, &out)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayAuth, err)
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", fmt.Errorf("%w: empty token in auth response", ErrGatewayAuth)
	}

	c.authToken = out.Token
	c.tokenValid = time.Now().Add(paymobTokenLifetime)
	return c.authToken, nil
}

type paymobPlan struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Frequency int    `json:"frequency"`
	IsActive  bool   `json:"is_active"`
}

// EnsurePlan lists the existing subscription plans and reuses the one whose
// name matches; otherwise it creates a new plan for the cycle and amount.
func (c *PaymobClient) EnsurePlan(ctx context.Context, name string, cycle BillingCycle, quote PriceQuote) (RemotePlan, error) {
	token, err := c.token(ctx)
	if err != nil {
		return RemotePlan{}, err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	page := 1
	for {
		var out struct {
			Results []paymobPlan `json:"results"`
			Next    *string      `json:"next"`
		}
		url := fmt.Sprintf("%s/api/acceptance/subscription-plans?page=%d", c.BaseURL, page)
		if err := getJSON(ctx, c.HTTPClient, url, headers, &out); err != nil {
			return RemotePlan{}, fmt.Errorf("%w: list plans: %v", ErrGatewayPlanCreate, err)
		}
		for _, p := range out.Results {
			if p.Name == name && p.IsActive {
				return RemotePlan{Provider: ProviderPaymob, PlanID: strconv.Itoa(p.ID)}, nil
			}
		}
		if out.Next == nil || *out.Next == "" {
			break
		}
		page++
	}

	payload := map[string]any{
		"name":                   name,
		"frequency":              cycle.FrequencyDays(),
		"amount_cents":           quote.AmountCents(),
		"use_transaction_amount": false,
		"is_active":              true,
		"integration":            c.IntegrationID,
		"plan_type":              "rent",
	}
	var created paymobPlan
	if err := postJSON(ctx, c.HTTPClient, c.BaseURL+"/api/acceptance/subscription-plans", headers, payload, &created); err != nil {
		return RemotePlan{}, fmt.Errorf("%w: create plan: %v", ErrGatewayPlanCreate, err)
	}
	if created.ID == 0 {
		return RemotePlan{}, fmt.Errorf("%w: create plan returned no id", ErrGatewayPlanCreate)
	}
	return RemotePlan{Provider: ProviderPaymob, PlanID: strconv.Itoa(created.ID)}, nil
}

type paymobIntentionResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// CreateSubscription creates a payment intention bound to the plan. The
// correlation token rides in special_reference and surfaces on webhooks as
// the order's merchant_order_id.
func (c *PaymobClient) CreateSubscription(ctx context.Context, plan RemotePlan, quote PriceQuote, customer Customer, address BillingAddress, correlation string) (CheckoutSession, error) {
	planID, err := strconv.Atoi(plan.PlanID)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: malformed plan id %q", ErrGatewaySubscriptionCreate, plan.PlanID)
	}

	payload := c.intentionPayload(quote, customer, address, correlation)
	payload["subscription_plan_id"] = planID

	out, err := c.createIntention(ctx, payload)
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{
		ApprovalURL:            c.checkoutLink(out.ClientSecret),
		ExternalSubscriptionID: out.ID,
	}, nil
}

// CreateWalletIntention creates a one-off payment intention for a wallet
// top-up. The reference must carry the wallet prefix so the webhook path can
// route the settled transaction.
func (c *PaymobClient) CreateWalletIntention(ctx context.Context, quote PriceQuote, customer Customer, reference string, ttl time.Duration) (PaymentLink, error) {
	if !strings.HasPrefix(reference, walletReferencePrefix) {
		return PaymentLink{}, fmt.Errorf("%w: wallet reference must start with %q", ErrGatewaySubscriptionCreate, walletReferencePrefix)
	}

	payload := c.intentionPayload(quote, customer, BillingAddress{}, reference)
	payload["expiration"] = int(ttl.Seconds())

	out, err := c.createIntention(ctx, payload)
	if err != nil {
		return PaymentLink{}, err
	}
	return PaymentLink{
		URL:       c.checkoutLink(out.ClientSecret),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (c *PaymobClient) intentionPayload(quote PriceQuote, customer Customer, address BillingAddress, reference string) map[string]any {
	orDash := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "-"
		}
		return s
	}
	return map[string]any{
		"amount":            quote.AmountCents(),
		"currency":          quote.Currency,
		"payment_methods":   []int{c.IntegrationID},
		"special_reference": reference,
		"items":             []any{},
		"billing_data": map[string]string{
			"first_name":   customer.FirstName,
			"last_name":    customer.LastName,
			"email":        customer.Email,
			"phone_number": orDash(customer.Phone),
			"street":       orDash(address.Street),
			"city":         orDash(address.City),
			"state":        orDash(address.State),
			"country":      orDash(address.Country),
			"postal_code":  orDash(address.PostalCode),
		},
		"customer": map[string]string{
			"first_name": customer.FirstName,
			"last_name":  customer.LastName,
			"email":      customer.Email,
		},
	}
}

func (c *PaymobClient) createIntention(ctx context.Context, payload map[string]any) (*paymobIntentionResponse, error) {
	if c.SecretKey == "" {
		return nil, fmt.Errorf("%w: PAYMOB_SECRET_KEY is not configured", ErrGatewayAuth)
	}
	headers := map[string]string{"Authorization": "Token " + c.SecretKey}

	var out paymobIntentionResponse
	if err := postJSON(ctx, c.HTTPClient, c.BaseURL+"/v1/intention/", headers, payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewaySubscriptionCreate, err)
	}
	if strings.TrimSpace(out.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: intention response missing client_secret", ErrGatewaySubscriptionCreate)
	}
	return &out, nil
}

func (c *PaymobClient) checkoutLink(clientSecret string) string {
	base := strings.TrimRight(c.CheckoutURL, "/")
	return fmt.Sprintf("%s/?publicKey=%s&clientSecret=%s", base, c.PublicKey, clientSecret)
}
