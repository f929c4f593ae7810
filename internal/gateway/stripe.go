package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/client"
)

// StripeGateway - адаптер к Stripe PaymentIntents с ручным списанием:
// Authorize создаёт и подтверждает intent, Capture списывает, Refund возвращает часть или всё.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil)}
}

func (g *StripeGateway) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.Instrument),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		// 3DS и прочие дополнительные шаги ядро не проходит, считаем отказом
		return "", fmt.Errorf("%w: payment intent %s in status %s", ErrDeclined, pi.ID, pi.Status)
	}
	return pi.ID, nil
}

func (g *StripeGateway) Capture(ctx context.Context, authorizationID, idempotencyKey string) (string, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := g.api.PaymentIntents.Capture(authorizationID, params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", fmt.Errorf("%w: capture of %s left status %s", ErrDeclined, pi.ID, pi.Status)
	}
	return pi.ID, nil
}

func (g *StripeGateway) Refund(ctx context.Context, transactionID string, amount int64, idempotencyKey string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	return r.ID, nil
}

// classifyStripeError отделяет отказы по карте от временных сбоев.
func classifyStripeError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		return fmt.Errorf("%w: %s", ErrDeclined, stripeErr.Msg)
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrUnavailable, stripeErr.Msg)
	default:
		return fmt.Errorf("%w: %s", ErrDeclined, stripeErr.Msg)
	}
}
