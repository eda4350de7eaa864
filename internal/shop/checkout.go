package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront/internal/metrics"
	"go.uber.org/zap"
)

type Checkout struct {
	Catalog    Catalog
	Ledger     Ledger
	Processor  Processor
	Currency   string
	SuccessURL string
	CancelURL  string
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

type Started struct {
	Order      Order
	PaymentURL string
}

// Start opens a hosted payment session for qty units of the product and records
// a pending order for it. Stock is checked, not reserved.
func (c *Checkout) Start(ctx context.Context, buyer Buyer, productID int64, qty int) (Started, error) {
	st, err := c.start(ctx, buyer, productID, qty)
	c.Metrics.Checkout(checkoutResult(err))
	return st, err
}

func (c *Checkout) start(ctx context.Context, buyer Buyer, productID int64, qty int) (Started, error) {
	p, err := c.Catalog.GetProduct(ctx, productID)
	if err != nil {
		return Started{}, err
	}
	if qty < 1 {
		return Started{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if qty > p.Stock {
		return Started{}, &StockError{Requested: qty, Available: p.Stock}
	}

	sess, err := c.Processor.CreateCheckoutSession(ctx, CheckoutRequest{
		ProductName:   p.Name,
		UnitAmount:    MinorUnits(p.Price),
		Currency:      c.currency(),
		Quantity:      qty,
		CustomerEmail: buyer.Email,
		SuccessURL:    c.SuccessURL,
		CancelURL:     c.CancelURL,
		Reference:     fmt.Sprintf("user:%d", buyer.UserID),
	})
	if err != nil {
		return Started{}, fmt.Errorf("%w: %w", ErrProcessor, err)
	}

	order, err := c.Ledger.CreateOrder(ctx, Order{
		UserID:            buyer.UserID,
		ProductID:         p.ID,
		Quantity:          qty,
		Amount:            p.Total(qty),
		CheckoutSessionID: sess.ID,
	})
	if err != nil {
		// The session is left to expire at the processor; its completion will be unmatched.
		c.logger().Error("order insert failed after session opened",
			zap.String("checkout_session_id", sess.ID), zap.Int64("product_id", p.ID), zap.Error(err))
		return Started{}, fmt.Errorf("create order: %w", err)
	}

	c.logger().Info("checkout started",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", buyer.UserID),
		zap.Int64("product_id", p.ID),
		zap.Int("quantity", qty),
		zap.String("amount", order.Amount.StringFixed(2)),
		zap.String("checkout_session_id", sess.ID))
	return Started{Order: order, PaymentURL: sess.URL}, nil
}

func (c *Checkout) currency() string {
	if c.Currency == "" {
		return "usd"
	}
	return c.Currency
}

func (c *Checkout) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return "started"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrProcessor):
		return "processor_error"
	default:
		return "error"
	}
}
