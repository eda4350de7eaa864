package stripex

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront/internal/shop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const secret = "whsec_test_secret"

func sign(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

const completed = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {"id": "cs_test_123", "object": "checkout.session", "payment_status": "paid"}}
}`

func newTestProcessor() *Processor {
	return &Processor{webhookSecret: secret, tolerance: webhook.DefaultTolerance}
}

func TestParseEvent_CheckoutCompleted(t *testing.T) {
	p := newTestProcessor()
	payload := []byte(completed)

	ev, err := p.ParseEvent(payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, shop.EventCheckoutCompleted, ev.Kind)
	assert.Equal(t, "cs_test_123", ev.SessionID)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventCheckoutSessionCompleted, ev.Type)
}

func TestParseEvent_OtherTypes(t *testing.T) {
	p := newTestProcessor()
	payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.created","data":{"object":{"id":"pi_1"}}}`)

	ev, err := p.ParseEvent(payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, shop.EventOther, ev.Kind)
	assert.Equal(t, "payment_intent.created", ev.Type)
	assert.Empty(t, ev.SessionID)
}

func TestParseEvent_Rejections(t *testing.T) {
	p := newTestProcessor()
	payload := []byte(completed)

	tests := []struct {
		name    string
		payload []byte
		header  string
		wantErr error
	}{
		{name: "wrong secret", payload: payload, header: sign(payload, "whsec_other", time.Now()), wantErr: shop.ErrInvalidSignature},
		{name: "missing header", payload: payload, header: "", wantErr: shop.ErrInvalidSignature},
		{name: "garbage header", payload: payload, header: "not-a-signature", wantErr: shop.ErrInvalidSignature},
		{name: "stale timestamp", payload: payload, header: sign(payload, secret, time.Now().Add(-time.Hour)), wantErr: shop.ErrInvalidSignature},
		{name: "tampered body", payload: []byte(completed + " "), header: sign(payload, secret, time.Now()), wantErr: shop.ErrInvalidSignature},
		{name: "signed garbage", payload: []byte("{oops"), header: sign([]byte("{oops"), secret, time.Now()), wantErr: shop.ErrInvalidPayload},
		{
			name:    "completed without data",
			payload: []byte(`{"id":"evt_3","type":"checkout.session.completed"}`),
			header:  sign([]byte(`{"id":"evt_3","type":"checkout.session.completed"}`), secret, time.Now()),
			wantErr: shop.ErrInvalidPayload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseEvent(tt.payload, tt.header)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSessionParams(t *testing.T) {
	params := sessionParams(context.Background(), shop.CheckoutRequest{
		ProductName:   "Mug",
		UnitAmount:    1000,
		Currency:      "usd",
		Quantity:      2,
		CustomerEmail: "ann@example.com",
		SuccessURL:    "http://shop.test/success/",
		CancelURL:     "http://shop.test/cancel/",
		Reference:     "user:7",
	})

	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *params.Mode)
	require.Len(t, params.LineItems, 1)
	li := params.LineItems[0]
	assert.Equal(t, int64(2), *li.Quantity)
	assert.Equal(t, int64(1000), *li.PriceData.UnitAmount)
	assert.Equal(t, "usd", *li.PriceData.Currency)
	assert.Equal(t, "Mug", *li.PriceData.ProductData.Name)
	assert.Equal(t, "ann@example.com", *params.CustomerEmail)
	assert.Equal(t, "http://shop.test/success/", *params.SuccessURL)
	assert.Equal(t, "http://shop.test/cancel/", *params.CancelURL)
	assert.Equal(t, "user:7", *params.ClientReferenceID)
}
