package shop

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// Total returns price x qty.
func (p Product) Total(qty int) decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(qty)))
}

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	DateJoined   time.Time `json:"date_joined"`
}

type Order struct {
	ID                int64           `json:"id"`
	UserID            int64           `json:"user_id"`
	ProductID         int64           `json:"product_id"`
	Quantity          int             `json:"quantity"`
	Amount            decimal.Decimal `json:"amount"`
	CheckoutSessionID string          `json:"checkout_session_id"`
	Paid              bool            `json:"paid"`
	CreatedAt         time.Time       `json:"created_at"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
}

func (o Order) Status() Status {
	if o.Paid {
		return StatusPaid
	}
	return StatusPending
}

// Buyer is the authenticated user placing an order, as carried by the session.
type Buyer struct {
	UserID int64
	Email  string
}

// MinorUnits converts an amount to integer cents, truncating anything below a cent.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}
