package shop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres Store. Money columns are NUMERIC(10,2) and travel as text.
type Repo struct{ DB *pgxpool.Pool }

const uniqueViolation = "23505"

const orderColumns = `id, user_id, product_id, quantity, amount::text, checkout_session_id, paid, created_at, paid_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		amount string
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.Quantity, &amount,
		&o.CheckoutSessionID, &o.Paid, &o.CreatedAt, &o.PaidAt); err != nil {
		return Order{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Order{}, fmt.Errorf("order %d amount: %w", o.ID, err)
	}
	o.Amount = d
	return o, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock); err != nil {
		return Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("product %d price: %w", p.ID, err)
	}
	p.Price = d
	return p, nil
}

func (r *Repo) CreateProduct(ctx context.Context, p Product) (Product, error) {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO products(name, description, price, stock)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, p.Name, p.Description, p.Price.StringFixed(2), p.Stock).Scan(&p.ID)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func (r *Repo) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx,
		`SELECT id, name, description, price::text, stock FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return p, err
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, description, price::text, stock FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) CreateUser(ctx context.Context, u User) (User, error) {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO users(email, first_name, last_name, password_hash, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, date_joined`,
		u.Email, u.FirstName, u.LastName, u.PasswordHash, u.IsActive,
	).Scan(&u.ID, &u.DateJoined)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return u, nil
}

const userColumns = `id, email, first_name, last_name, password_hash, is_active, date_joined`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.IsActive, &u.DateJoined)
	return u, err
}

func (r *Repo) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, err
}

func (r *Repo) GetUserByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return u, err
}

func (r *Repo) CreateOrder(ctx context.Context, o Order) (Order, error) {
	created, err := scanOrder(r.DB.QueryRow(ctx, `
		INSERT INTO orders(user_id, product_id, quantity, amount, checkout_session_id, paid)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING `+orderColumns,
		o.UserID, o.ProductID, o.Quantity, o.Amount.StringFixed(2), o.CheckoutSessionID,
	))
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	return created, nil
}

// MarkPaid flips paid with a conditional update and decrements stock in the
// same transaction. Concurrent duplicates block on the order row lock and then
// fail the paid=FALSE predicate, so only one of them reaches the stock update.
func (r *Repo) MarkPaid(ctx context.Context, sessionID string) (PaymentResult, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PaymentResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET paid = TRUE, paid_at = now()
		WHERE checkout_session_id = $1 AND paid = FALSE
		RETURNING `+orderColumns, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE checkout_session_id = $1`, sessionID))
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentResult{Outcome: OutcomeUnmatched}, nil
		}
		if err != nil {
			return PaymentResult{}, err
		}
		return PaymentResult{Outcome: OutcomeDuplicate, Order: existing}, nil
	}
	if err != nil {
		return PaymentResult{}, err
	}

	var stock int
	if err := tx.QueryRow(ctx, `
		UPDATE products SET stock = GREATEST(stock - $2, 0)
		WHERE id = $1
		RETURNING stock`, o.ProductID, o.Quantity).Scan(&stock); err != nil {
		return PaymentResult{}, fmt.Errorf("decrement stock for product %d: %w", o.ProductID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{Outcome: OutcomePaid, Order: o, Stock: stock}, nil
}

func (r *Repo) ListPaidOrders(ctx context.Context, userID int64) ([]Order, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND paid ORDER BY id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Ping reports whether the pool can reach the database.
func (r *Repo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.DB.Ping(ctx)
}

var _ Store = (*Repo)(nil)
