package settlement

import (
	"context"
	"math"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/ride-dispatch/internal/models"
)

// StripeSettlement charges completed rides through Stripe PaymentIntents.
type StripeSettlement struct {
	Currency string
}

// NewStripeSettlement initializes the global stripe client key.
func NewStripeSettlement(apiKey, currency string) *StripeSettlement {
	stripe.Key = apiKey
	if currency == "" {
		currency = "inr"
	}
	return &StripeSettlement{Currency: currency}
}

// Settle creates and captures a PaymentIntent for the final fare. Fares are
// in major units; Stripe wants the smallest denomination.
func (s *StripeSettlement) Settle(ctx context.Context, ride *models.Ride, finalFare float64) error {
	amount := int64(math.Round(finalFare * 100))
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.Currency),
		Confirm:  stripe.Bool(true),
	}
	params.AddMetadata("ride_id", ride.ID)
	params.AddMetadata("rider_id", ride.RiderID)
	_, err := paymentintent.New(params)
	return err
}

// Hold creates a manual-capture PaymentIntent to reserve funds up front.
// Returns the PaymentIntent ID.
func (s *StripeSettlement) Hold(ctx context.Context, amount int64, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.Currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeSettlement) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeSettlement) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
