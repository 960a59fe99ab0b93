package payment

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/HossamFares/Lernora/internal/pkg/env"
)

const defaultPayPalBaseURL = "https://api-m.paypal.com"

// PayPalClient drives PayPal's REST API: client-credentials OAuth, catalog
// products, billing plans and subscriptions. It implements ProviderGateway
// and WebhookInterpreter.
type PayPalClient struct {
	ClientID     string
	ClientSecret string
	BrandName    string
	ReturnURL    string
	CancelURL    string

	BaseURL string

	Codec      *CorrelationCodec
	HTTPClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenValid  time.Time
}

func NewPayPalClientFromEnv() *PayPalClient {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	returnURL := strings.TrimSpace(env.GetEnv("PAYPAL_RETURN_URL", ""))
	cancelURL := strings.TrimSpace(env.GetEnv("PAYPAL_CANCEL_URL", ""))
	if returnURL == "" && base != "" {
		returnURL = base + "/payments/paypal/return"
	}
	if cancelURL == "" && base != "" {
		cancelURL = base + "/payments/paypal/cancel"
	}

	return &PayPalClient{
		ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		BrandName:    strings.TrimSpace(env.GetEnv("PAYPAL_BRAND_NAME", "Lernora")),
		ReturnURL:    returnURL,
		CancelURL:    cancelURL,
		BaseURL:      strings.TrimRight(env.GetEnv("PAYPAL_BASE_URL", defaultPayPalBaseURL), "/"),
		Codec:        NewCorrelationCodec(env.GetEnv("PAYMENT_CORRELATION_SECRET", "")),
		HTTPClient: &http.Client{
			Timeout: gatewayTimeout,
		},
	}
}

func (c *PayPalClient) Name() string {
	return ProviderPayPal
}

// token returns a cached OAuth access token, exchanging client credentials
// when the cached one is missing or near expiry.
func (c *PayPalClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenValid) {
		return c.accessToken, nil
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return "", fmt.Errorf("%w: PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured", ErrGatewayAuth)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.ClientID + ":" + c.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := doJSON(c.HTTPClient, req, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayAuth, err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", fmt.Errorf("%w: empty access_token in oauth response", ErrGatewayAuth)
	}

	c.accessToken = out.AccessToken
	// Refresh one minute early.
	c.tokenValid = time.Now().Add(time.Duration(out.ExpiresIn-60) * time.Second)
	return c.accessToken, nil
}

func (c *PayPalClient) authHeaders(ctx context.Context) (map[string]string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

type paypalPlan struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// EnsurePlan pages through the billing plans and reuses the active one whose
// name matches; otherwise it creates a catalog product plus a billing plan.
func (c *PayPalClient) EnsurePlan(ctx context.Context, name string, cycle BillingCycle, quote PriceQuote) (RemotePlan, error) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return RemotePlan{}, err
	}

	page := 1
	for {
		var out struct {
			Plans []paypalPlan `json:"plans"`
			Links []paypalLink `json:"links"`
		}
		listURL := fmt.Sprintf("%s/v1/billing/plans?page_size=20&page=%d", c.BaseURL, page)
		if err := getJSON(ctx, c.HTTPClient, listURL, headers, &out); err != nil {
			return RemotePlan{}, fmt.Errorf("%w: list plans: %v", ErrGatewayPlanCreate, err)
		}
		for _, p := range out.Plans {
			if p.Name == name && p.Status == "ACTIVE" {
				return RemotePlan{Provider: ProviderPayPal, PlanID: p.ID, ProductID: p.ProductID}, nil
			}
		}
		if !hasLinkRel(out.Links, "next") {
			break
		}
		page++
	}

	var product struct {
		ID string `json:"id"`
	}
	productPayload := map[string]any{
		"name":     name,
		"type":     "SERVICE",
		"category": "EDUCATIONAL_AND_TEXTBOOKS",
	}
	if err := postJSON(ctx, c.HTTPClient, c.BaseURL+"/v1/catalogs/products", headers, productPayload, &product); err != nil {
		return RemotePlan{}, fmt.Errorf("%w: create product: %v", ErrGatewayPlanCreate, err)
	}
	if product.ID == "" {
		return RemotePlan{}, fmt.Errorf("%w: create product returned no id", ErrGatewayPlanCreate)
	}

	planPayload := map[string]any{
		"product_id": product.ID,
		"name":       name,
		"status":     "ACTIVE",
		"billing_cycles": []map[string]any{
			{
				"frequency": map[string]any{
					"interval_unit":  cycle.IntervalUnit(),
					"interval_count": 1,
				},
				"tenure_type":  "REGULAR",
				"sequence":     1,
				"total_cycles": 0,
				"pricing_scheme": map[string]any{
					"fixed_price": map[string]string{
						"value":         quote.AmountString(),
						"currency_code": quote.Currency,
					},
				},
			},
		},
		"payment_preferences": map[string]any{
			"auto_bill_outstanding":     true,
			"setup_fee_failure_action":  "CANCEL",
			"payment_failure_threshold": 3,
		},
	}
	var created paypalPlan
	if err := postJSON(ctx, c.HTTPClient, c.BaseURL+"/v1/billing/plans", headers, planPayload, &created); err != nil {
		return RemotePlan{}, fmt.Errorf("%w: create plan: %v", ErrGatewayPlanCreate, err)
	}
	if created.ID == "" {
		return RemotePlan{}, fmt.Errorf("%w: create plan returned no id", ErrGatewayPlanCreate)
	}
	return RemotePlan{Provider: ProviderPayPal, PlanID: created.ID, ProductID: product.ID}, nil
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

// CreateSubscription creates a subscription on the plan and returns the
// approve link the payer must visit. The correlation token rides in
// custom_id and comes back on every webhook touching the subscription.
func (c *PayPalClient) CreateSubscription(ctx context.Context, plan RemotePlan, quote PriceQuote, customer Customer, address BillingAddress, correlation string) (CheckoutSession, error) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return CheckoutSession{}, err
	}

	payload := map[string]any{
		"plan_id":   plan.PlanID,
		"custom_id": correlation,
		"subscriber": map[string]any{
			"name": map[string]string{
				"given_name": customer.FirstName,
				"surname":    customer.LastName,
			},
			"email_address": customer.Email,
		},
		"application_context": map[string]any{
			"brand_name":  c.BrandName,
			"user_action": "SUBSCRIBE_NOW",
			"return_url":  c.ReturnURL,
			"cancel_url":  c.CancelURL,
		},
	}

	var out struct {
		ID    string       `json:"id"`
		Links []paypalLink `json:"links"`
	}
	if err := postJSON(ctx, c.HTTPClient, c.BaseURL+"/v1/billing/subscriptions", headers, payload, &out); err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrGatewaySubscriptionCreate, err)
	}
	if out.ID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: subscription response missing id", ErrGatewaySubscriptionCreate)
	}

	for _, link := range out.Links {
		if link.Rel == "approve" && link.Href != "" {
			return CheckoutSession{ApprovalURL: link.Href, ExternalSubscriptionID: out.ID}, nil
		}
	}
	return CheckoutSession{}, ErrApprovalLinkMissing
}

type paypalSubscription struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CustomID    string `json:"custom_id"`
	BillingInfo struct {
		NextBillingTime string `json:"next_billing_time"`
		LastPayment     struct {
			Amount struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
			Time string `json:"time"`
		} `json:"last_payment"`
	} `json:"billing_info"`
	Subscriber struct {
		EmailAddress string `json:"email_address"`
	} `json:"subscriber"`
}

// fetchSubscription loads the live subscription resource. The webhook path
// uses it both to map charges back to their target and to confirm state
// against the API instead of trusting the delivered payload.
func (c *PayPalClient) fetchSubscription(ctx context.Context, id string) (*paypalSubscription, error) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return nil, err
	}
	var out paypalSubscription
	if err := getJSON(ctx, c.HTTPClient, c.BaseURL+"/v1/billing/subscriptions/"+url.PathEscape(id), headers, &out); err != nil {
		return nil, fmt.Errorf("subscription lookup failed: %w", err)
	}
	return &out, nil
}

func hasLinkRel(links []paypalLink, rel string) bool {
	for _, l := range links {
		if l.Rel == rel {
			return true
		}
	}
	return false
}
