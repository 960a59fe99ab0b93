package constants

// API route paths, shared between the router and tests.
const (
	APIRoute = "/api"
	V1Route  = "/v1"

	InitiateSubscriptionRoute = "/subscriptions/initiate"
	WalletTopUpRoute          = "/wallet/top-up"
	PaymobWebhookRoute        = "/payments/webhook/paymob"
	PayPalWebhookRoute        = "/payments/webhook/paypal"
	PaymentStatsRoute         = "/payments/stats"
)
