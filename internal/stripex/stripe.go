// Package stripex adapts Stripe Checkout to shop.Processor.
package stripex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront/internal/shop"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const EventCheckoutSessionCompleted = "checkout.session.completed"

type Processor struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

func New(secretKey, webhookSecret string) *Processor {
	return &Processor{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		tolerance:     webhook.DefaultTolerance,
	}
}

func sessionParams(ctx context.Context, req shop.CheckoutRequest) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ProductName),
				},
			},
			Quantity: stripe.Int64(int64(req.Quantity)),
		}},
		CustomerEmail: stripe.String(req.CustomerEmail),
		SuccessURL:    stripe.String(req.SuccessURL),
		CancelURL:     stripe.String(req.CancelURL),
	}
	if req.Reference != "" {
		params.ClientReferenceID = stripe.String(req.Reference)
	}
	params.Context = ctx
	return params
}

func (p *Processor) CreateCheckoutSession(ctx context.Context, req shop.CheckoutRequest) (shop.CheckoutSession, error) {
	s, err := p.api.CheckoutSessions.New(sessionParams(ctx, req))
	if err != nil {
		return shop.CheckoutSession{}, fmt.Errorf("stripe checkout session: %w", err)
	}
	return shop.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// ParseEvent verifies the Stripe-Signature header over the raw payload and
// reduces the event to a shop.PaymentEvent.
func (p *Processor) ParseEvent(payload []byte, signature string) (shop.PaymentEvent, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, p.webhookSecret, p.tolerance); err != nil {
		return shop.PaymentEvent{}, fmt.Errorf("%w: %w", shop.ErrInvalidSignature, err)
	}
	return DecodeEvent(payload)
}

// DecodeEvent parses an already verified payload.
func DecodeEvent(payload []byte) (shop.PaymentEvent, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return shop.PaymentEvent{}, fmt.Errorf("%w: %w", shop.ErrInvalidPayload, err)
	}
	if ev.Type == "" {
		return shop.PaymentEvent{}, fmt.Errorf("%w: missing event type", shop.ErrInvalidPayload)
	}

	out := shop.PaymentEvent{ID: ev.ID, Type: string(ev.Type)}
	if out.Type != EventCheckoutSessionCompleted {
		return out, nil
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return shop.PaymentEvent{}, fmt.Errorf("%w: event has no data object", shop.ErrInvalidPayload)
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
		return shop.PaymentEvent{}, fmt.Errorf("%w: checkout session: %w", shop.ErrInvalidPayload, err)
	}
	out.Kind = shop.EventCheckoutCompleted
	out.SessionID = cs.ID
	return out, nil
}

var _ shop.Processor = (*Processor)(nil)
