package shop

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPaid = "OrderPaid"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderPaidPayload struct {
	OrderID           int64     `json:"order_id"`
	UserID            int64     `json:"user_id"`
	ProductID         int64     `json:"product_id"`
	Quantity          int       `json:"quantity"`
	Amount            string    `json:"amount"`
	CheckoutSessionID string    `json:"checkout_session_id"`
	RemainingStock    int       `json:"remaining_stock"`
	PaidAt            time.Time `json:"paid_at"`
	ProcessorEventID  string    `json:"processor_event_id,omitempty"`
}

// NewOrderPaidEnvelope wraps a committed PENDING->PAID transition as an event.
func NewOrderPaidEnvelope(producer, processorEventID string, res PaymentResult) (Envelope, error) {
	paidAt := time.Now().UTC()
	if res.Order.PaidAt != nil {
		paidAt = res.Order.PaidAt.UTC()
	}
	payload, err := json.Marshal(OrderPaidPayload{
		OrderID:           res.Order.ID,
		UserID:            res.Order.UserID,
		ProductID:         res.Order.ProductID,
		Quantity:          res.Order.Quantity,
		Amount:            res.Order.Amount.StringFixed(2),
		CheckoutSessionID: res.Order.CheckoutSessionID,
		RemainingStock:    res.Stock,
		PaidAt:            paidAt,
		ProcessorEventID:  processorEventID,
	})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventOrderPaid,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       processorEventID,
		CorrelationID: OrderKey(res.Order.ID),
		Payload:       payload,
	}, nil
}
