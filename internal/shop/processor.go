package shop

import "context"

// CheckoutRequest describes a hosted payment session with a single line item.
type CheckoutRequest struct {
	ProductName   string
	UnitAmount    int64 // minor units
	Currency      string
	Quantity      int
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Reference     string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type EventKind int

const (
	EventOther EventKind = iota
	EventCheckoutCompleted
)

// PaymentEvent is a verified processor notification reduced to what the
// reconciler dispatches on.
type PaymentEvent struct {
	ID        string
	Type      string
	Kind      EventKind
	SessionID string
}

// Processor is the payment processor as seen by checkout and reconciliation.
// ParseEvent must return errors matching ErrInvalidSignature or ErrInvalidPayload.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	ParseEvent(payload []byte, signature string) (PaymentEvent, error)
}
