package gateway

import "context"

// PaymentIntent is the gateway-side handle for a pending charge. The client
// secret goes back to the caller so the frontend can complete the payment.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// WebhookEvent is the normalized inbound gateway notification.
type WebhookEvent struct {
	Type          string
	PaymentIntent WebhookPaymentIntent
}

type WebhookPaymentIntent struct {
	ID       string
	Amount   int64
	Status   string
	Metadata map[string]string
}

// PaymentGateway is the external payment processor. Amounts are in the
// smallest currency unit.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount int64, customerRef string, metadata map[string]string) (*PaymentIntent, error)
	CancelIntent(ctx context.Context, id string) error
}
