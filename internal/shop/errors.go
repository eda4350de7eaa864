package shop

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrProcessor         = errors.New("payment processor error")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidPayload    = errors.New("invalid payload")

	ErrEmailRequired    = errors.New("email is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrEmailTaken       = errors.New("email already registered")
	ErrUnknownEmail     = errors.New("email not registered")
	ErrWrongPassword    = errors.New("incorrect password")
)

// StockError reports a quantity that exceeds the product's current stock.
// It matches ErrInsufficientStock with errors.Is.
type StockError struct {
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("requested quantity exceeds available stock (%d)", e.Available)
}

func (e *StockError) Is(target error) bool { return target == ErrInsufficientStock }
