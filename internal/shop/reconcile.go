package shop

import (
	"context"
	"errors"
	"fmt"

	kafkax "github.com/ariefcatur/go-storefront/internal/kafka"
	"github.com/ariefcatur/go-storefront/internal/metrics"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Deduper remembers processor event ids that were already reconciled.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Reconciler applies verified payment notifications to the ledger.
type Reconciler struct {
	Processor Processor
	Ledger    Ledger
	Dedup     Deduper   // optional
	Events    Publisher // optional
	Service   string
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

// Handle verifies and applies one notification. A nil error means the
// notification must be acknowledged, whether or not an order matched.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	ev, err := r.Processor.ParseEvent(payload, signature)
	if err != nil {
		if !errors.Is(err, ErrInvalidSignature) && !errors.Is(err, ErrInvalidPayload) {
			err = fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		r.logger().Warn("webhook rejected", zap.Error(err))
		r.Metrics.Webhook("rejected")
		return "", err
	}

	log := r.logger().With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	if ev.Kind != EventCheckoutCompleted {
		log.Debug("webhook event ignored")
		r.Metrics.Webhook(string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}
	if ev.SessionID == "" {
		r.Metrics.Webhook("rejected")
		return "", fmt.Errorf("%w: completed event without session id", ErrInvalidPayload)
	}
	log = log.With(zap.String("checkout_session_id", ev.SessionID))

	if r.Dedup != nil && ev.ID != "" {
		seen, err := r.Dedup.Seen(ctx, ev.ID)
		if err != nil {
			log.Warn("dedup lookup failed", zap.Error(err))
		} else if seen {
			log.Info("webhook event already reconciled")
			r.Metrics.Webhook(string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
	}

	res, err := r.Ledger.MarkPaid(ctx, ev.SessionID)
	if err != nil {
		log.Error("mark paid failed", zap.Error(err))
		r.Metrics.Webhook("error")
		return "", fmt.Errorf("mark paid: %w", err)
	}

	switch res.Outcome {
	case OutcomeUnmatched:
		log.Warn("order not found for checkout session")
	case OutcomeDuplicate:
		log.Info("order already paid", zap.Int64("order_id", res.Order.ID))
	case OutcomePaid:
		log.Info("order paid",
			zap.Int64("order_id", res.Order.ID),
			zap.Int64("product_id", res.Order.ProductID),
			zap.Int("quantity", res.Order.Quantity),
			zap.Int("stock", res.Stock))
		r.publishPaid(log, ev.ID, res)
	}

	// Unmatched events stay unmarked so a redelivery can pay a restored order.
	if r.Dedup != nil && ev.ID != "" && res.Outcome != OutcomeUnmatched {
		if err := r.Dedup.Mark(ctx, ev.ID); err != nil {
			log.Warn("dedup mark failed", zap.Error(err))
		}
	}
	r.Metrics.Webhook(string(res.Outcome))
	return res.Outcome, nil
}

func (r *Reconciler) publishPaid(log *zap.Logger, processorEventID string, res PaymentResult) {
	if r.Events == nil {
		return
	}
	env, err := NewOrderPaidEnvelope(r.Service, processorEventID, res)
	if err != nil {
		log.Error("build order paid event", zap.Error(err))
		return
	}
	r.Events.Publish(PartitionKey(res.Order.ID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(EventOrderPaid)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (r *Reconciler) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}
