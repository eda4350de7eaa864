package shop

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory Store. A single mutex guards every table, which
// makes MarkPaid's check-then-set atomic across the order and its product.
type MemStore struct {
	mu        sync.Mutex
	products  map[int64]Product
	users     map[int64]User
	orders    map[int64]Order
	bySession map[string]int64
	nextUser  int64
	nextOrder int64
	now       func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		products:  map[int64]Product{},
		users:     map[int64]User{},
		orders:    map[int64]Order{},
		bySession: map[string]int64{},
		now:       time.Now,
	}
}

// PutProduct inserts or replaces a product.
func (m *MemStore) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *MemStore) GetProduct(_ context.Context, id int64) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *MemStore) ListProducts(_ context.Context) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return User{}, ErrEmailTaken
		}
	}
	m.nextUser++
	u.ID = m.nextUser
	if u.DateJoined.IsZero() {
		u.DateJoined = m.now().UTC()
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemStore) GetUser(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, nil
}

func (m *MemStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
}

func (m *MemStore) CreateOrder(_ context.Context, o Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[o.ProductID]; !ok {
		return Order{}, fmt.Errorf("product %d: %w", o.ProductID, ErrNotFound)
	}
	if _, ok := m.bySession[o.CheckoutSessionID]; ok {
		return Order{}, fmt.Errorf("checkout session %s already has an order", o.CheckoutSessionID)
	}
	m.nextOrder++
	o.ID = m.nextOrder
	o.Paid = false
	o.PaidAt = nil
	o.CreatedAt = m.now().UTC()
	m.orders[o.ID] = o
	m.bySession[o.CheckoutSessionID] = o.ID
	return o, nil
}

func (m *MemStore) MarkPaid(_ context.Context, sessionID string) (PaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySession[sessionID]
	if !ok {
		return PaymentResult{Outcome: OutcomeUnmatched}, nil
	}
	o := m.orders[id]
	p := m.products[o.ProductID]
	if !CanTransition(o.Status(), StatusPaid) {
		return PaymentResult{Outcome: OutcomeDuplicate, Order: o}, nil
	}

	now := m.now().UTC()
	o.Paid = true
	o.PaidAt = &now
	m.orders[id] = o

	p.Stock = clampStock(p.Stock, o.Quantity)
	m.products[p.ID] = p
	return PaymentResult{Outcome: OutcomePaid, Order: o, Stock: p.Stock}, nil
}

func (m *MemStore) ListPaidOrders(_ context.Context, userID int64) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.UserID == userID && o.Paid {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Orders returns a snapshot of every order, oldest first.
func (m *MemStore) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ Store = (*MemStore)(nil)
