package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

// StripeGateway implements PaymentGateway on Stripe payment intents.
type StripeGateway struct {
	cfg StripeConfig
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("gateway.NewStripeGateway: missing secret key")
	}

	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}

	stripe.Key = cfg.SecretKey

	return &StripeGateway{cfg: cfg}, nil
}

func (g *StripeGateway) CreateIntent(
	ctx context.Context,
	amount int64,
	customerRef string,
	metadata map[string]string,
) (*PaymentIntent, error) {
	const op = "gateway.StripeGateway.CreateIntent"

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(g.cfg.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: make(map[string]string, len(metadata)+1),
	}
	params.Context = ctx

	params.Metadata["customer_ref"] = customerRef
	for k, v := range metadata {
		params.Metadata[k] = v
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) CancelIntent(ctx context.Context, id string) error {
	const op = "gateway.StripeGateway.CancelIntent"

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := paymentintent.Cancel(id, params); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// VerifyWebhook authenticates an inbound webhook against the shared secret
// and normalizes it into a WebhookEvent.
func (g *StripeGateway) VerifyWebhook(payload []byte, sigHeader string) (*WebhookEvent, error) {
	const op = "gateway.StripeGateway.VerifyWebhook"

	event, err := webhook.ConstructEvent(payload, sigHeader, g.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out := &WebhookEvent{Type: string(event.Type)}

	var pi stripe.PaymentIntent
	if len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		out.PaymentIntent = WebhookPaymentIntent{
			ID:       pi.ID,
			Amount:   pi.Amount,
			Status:   string(pi.Status),
			Metadata: pi.Metadata,
		}
	}

	return out, nil
}
