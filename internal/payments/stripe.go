// Package payments wraps stripe-go for the hold/capture/cancel fare flow.
// Cash and wallet rides never touch this package.
package payments

import (
	"context"
	"os"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/ride-dispatch/internal/domain"
)

// Gateway is the fare-money interface the ride service depends on.
type Gateway interface {
	Hold(ctx context.Context, amount int64, currency domain.Currency, riderID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// StripeClient implements Gateway with PaymentIntent manual capture.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency domain.Currency, riderID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(string(currency))),
	}
	if riderID != "" {
		params.AddMetadata("rider_id", riderID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent after ride completion.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}

// NopGateway skips the payment provider entirely. Used for cash rides and
// local runs without Stripe credentials.
type NopGateway struct{}

func (NopGateway) Hold(context.Context, int64, domain.Currency, string) (string, error) {
	return "", nil
}
func (NopGateway) Capture(context.Context, string) error { return nil }
func (NopGateway) Cancel(context.Context, string) error  { return nil }
