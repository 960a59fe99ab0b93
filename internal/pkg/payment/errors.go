package payment

import "errors"

// Error taxonomy of the payment core. Creation-path errors propagate to the
// HTTP caller; webhook-path errors are classified, logged on the stored
// event, and acknowledged to the provider.
var (
	// ErrNotFound signals a missing course, plan, organization or user.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidPrice signals that the entity has no price configured for
	// the requested billing cycle.
	ErrInvalidPrice = errors.New("no price configured for billing cycle")

	// ErrGatewayAuth signals a failed authentication with the provider.
	ErrGatewayAuth = errors.New("gateway authentication failed")

	// ErrGatewayPlanCreate signals a failed remote plan list or create call.
	ErrGatewayPlanCreate = errors.New("gateway plan provisioning failed")

	// ErrGatewaySubscriptionCreate signals a failed remote subscription or
	// payment intention call.
	ErrGatewaySubscriptionCreate = errors.New("gateway subscription creation failed")

	// ErrApprovalLinkMissing signals a gateway response without the expected
	// approval link relation.
	ErrApprovalLinkMissing = errors.New("approval link missing from gateway response")

	// ErrCorrelationDecode signals a malformed or foreign correlation token.
	ErrCorrelationDecode = errors.New("correlation token decode failed")

	// ErrWalletNotFound signals a webhook referencing an unknown payer.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrCurrencyMismatch signals a wallet credit in a currency the wallet
	// does not hold.
	ErrCurrencyMismatch = errors.New("charge currency does not match wallet currency")

	// ErrWebhookMalformed signals a webhook body that cannot be parsed.
	// Redelivering such a body can never succeed.
	ErrWebhookMalformed = errors.New("malformed webhook payload")
)

// Retryable reports whether the caller may retry the operation that
// produced err. Only remote gateway failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrGatewayAuth) ||
		errors.Is(err, ErrGatewayPlanCreate) ||
		errors.Is(err, ErrGatewaySubscriptionCreate)
}
