// Package receipts turns order-paid events into customer receipts.
package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-storefront/internal/kafka"
	"github.com/ariefcatur/go-storefront/internal/metrics"
	"github.com/ariefcatur/go-storefront/internal/shop"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Receipt struct {
	OrderID     int64     `json:"order_id"`
	Email       string    `json:"email"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	Amount      string    `json:"amount"`
	PaidAt      time.Time `json:"paid_at"`
}

type Sender interface {
	Send(ctx context.Context, r Receipt) error
}

// LogSender writes receipts to the log instead of mailing them.
type LogSender struct{ Log *zap.Logger }

func (s LogSender) Send(_ context.Context, r Receipt) error {
	s.Log.Info("receipt",
		zap.Int64("order_id", r.OrderID),
		zap.String("email", r.Email),
		zap.String("product", r.ProductName),
		zap.Int("quantity", r.Quantity),
		zap.String("amount", r.Amount),
		zap.Time("paid_at", r.PaidAt))
	return nil
}

// Claimer hands out each event id once.
type Claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type Service struct {
	Catalog  shop.Catalog
	Accounts shop.Accounts
	Dedup    Claimer
	Sender   Sender
	Log      *zap.Logger
	Metrics  *metrics.Metrics
}

// HandleOrderPaid is installed as the consumer handler for shop.TopicOrderPaid.
func (s *Service) HandleOrderPaid(ctx context.Context, m kafkago.Message) error {
	var env shop.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Warn("skipping undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		s.Metrics.Receipt("malformed")
		return nil
	}
	if env.EventType != shop.EventOrderPaid {
		return nil
	}

	first, err := s.Dedup.Claim(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("claim %s: %w", env.EventID, err)
	}
	if !first {
		s.Metrics.Receipt("duplicate")
		return nil
	}

	if err := s.send(ctx, env); err != nil {
		if rerr := s.Dedup.Release(ctx, env.EventID); rerr != nil {
			s.Log.Warn("release claim", zap.String("event_id", env.EventID), zap.Error(rerr))
		}
		s.Metrics.Receipt("error")
		return err
	}
	s.Metrics.Receipt("sent")
	return nil
}

func (s *Service) send(ctx context.Context, env shop.Envelope) error {
	p, err := kafkax.UnwrapPayload[shop.OrderPaidPayload](env.Payload)
	if err != nil {
		return err
	}
	product, err := s.Catalog.GetProduct(ctx, p.ProductID)
	if err != nil {
		return fmt.Errorf("receipt for order %d: %w", p.OrderID, err)
	}
	user, err := s.Accounts.GetUser(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("receipt for order %d: %w", p.OrderID, err)
	}
	return s.Sender.Send(ctx, Receipt{
		OrderID:     p.OrderID,
		Email:       user.Email,
		ProductName: product.Name,
		Quantity:    p.Quantity,
		Amount:      p.Amount,
		PaidAt:      p.PaidAt,
	})
}
