package shop

import (
	"context"

	"github.com/shopspring/decimal"
)

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

type Accounts interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// Ledger owns orders. MarkPaid must be atomic: of any number of concurrent
// calls for the same session, at most one reports OutcomePaid and only that
// one decrements stock.
type Ledger interface {
	CreateOrder(ctx context.Context, o Order) (Order, error)
	MarkPaid(ctx context.Context, checkoutSessionID string) (PaymentResult, error)
	ListPaidOrders(ctx context.Context, userID int64) ([]Order, error)
}

// Store is everything the storefront persists.
type Store interface {
	Catalog
	Accounts
	Ledger
}

type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeIgnored   Outcome = "ignored"
)

// PaymentResult is what MarkPaid observed. Order is set when a matching order
// exists; Stock is the product stock after the decrement and only set for OutcomePaid.
type PaymentResult struct {
	Outcome Outcome
	Order   Order
	Stock   int
}

// PaidSummary returns the user's paid orders, newest first, and their total.
func PaidSummary(ctx context.Context, l Ledger, userID int64) ([]Order, decimal.Decimal, error) {
	orders, err := l.ListPaidOrders(ctx, userID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.Amount)
	}
	return orders, total, nil
}

// clampStock applies a decrement without going below zero.
func clampStock(stock, qty int) int {
	if n := stock - qty; n > 0 {
		return n
	}
	return 0
}
