package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront/internal/session"
	"github.com/ariefcatur/go-storefront/internal/shop"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Stripe caps event payloads well below this.
const maxWebhookBytes = 1 << 20

type Storefront struct {
	Accounts   *shop.AccountService
	Catalog    shop.Catalog
	Ledger     shop.Ledger
	Checkout   *shop.Checkout
	Reconciler *shop.Reconciler
	Sessions   *session.Manager
	Log        *zap.Logger
}

func (h *Storefront) Register(r chi.Router) {
	// Processor callbacks carry no cookie.
	r.Post("/stripe-webhook", h.webhook)
	r.Post("/stripe-webhook/", h.webhook)

	r.Group(func(r chi.Router) {
		r.Use(h.Sessions.Middleware)

		r.Get("/", h.products)
		r.Get("/signup/", h.signupPage)
		r.Post("/signup/", h.signup)
		r.Get("/login/", h.loginPage)
		r.Post("/login/", h.login)
		r.Get("/logout/", h.logout)
		r.Post("/logout/", h.logout)
		r.Get("/success/", h.flashRedirect("success", "Payment successful!"))
		r.Get("/cancel/", h.flashRedirect("warning", "Payment cancelled!"))

		r.Group(func(r chi.Router) {
			r.Use(RequireLogin)
			r.Get("/checkout/{productID}/", h.checkoutPage)
			r.Post("/create-payment/{productID}", h.createPayment)
			r.Post("/create-payment/{productID}/", h.createPayment)
		})
	})
}

// RequireLogin sends anonymous callers to the login page, remembering where
// they were headed.
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := session.FromContext(r.Context())
		if !s.Authenticated() {
			s.AddFlash("warning", "You must login first")
			next := "/"
			if r.Method == http.MethodGet {
				next = r.URL.Path
			}
			http.Redirect(w, r, "/login/?next="+url.QueryEscape(next), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type productView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Stock       int    `json:"stock"`
}

type orderView struct {
	ID          int64      `json:"id"`
	ProductID   int64      `json:"product_id"`
	ProductName string     `json:"product_name,omitempty"`
	Quantity    int        `json:"quantity"`
	Amount      string     `json:"amount"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

type userView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

func newProductView(p shop.Product) productView {
	return productView{ID: p.ID, Name: p.Name, Description: p.Description, Price: p.Price.StringFixed(2), Stock: p.Stock}
}

func (h *Storefront) products(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := session.FromContext(ctx)

	items, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		h.internalError(w, "list products", err)
		return
	}
	names := make(map[int64]string, len(items))
	views := make([]productView, 0, len(items))
	for _, p := range items {
		names[p.ID] = p.Name
		views = append(views, newProductView(p))
	}

	resp := map[string]any{"products": views, "messages": flashes(s)}
	if s.Authenticated() {
		orders, total, err := shop.PaidSummary(ctx, h.Ledger, s.UserID())
		if err != nil {
			h.internalError(w, "list paid orders", err)
			return
		}
		ov := make([]orderView, 0, len(orders))
		for _, o := range orders {
			ov = append(ov, orderView{
				ID:          o.ID,
				ProductID:   o.ProductID,
				ProductName: names[o.ProductID],
				Quantity:    o.Quantity,
				Amount:      o.Amount.StringFixed(2),
				Status:      string(o.Status()),
				CreatedAt:   o.CreatedAt,
				PaidAt:      o.PaidAt,
			})
		}
		resp["user"] = userView{ID: s.UserID(), Email: s.Email()}
		resp["paid_orders"] = ov
		resp["total_paid"] = total.StringFixed(2)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Storefront) signupPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"fields":   []string{"email", "first_name", "last_name", "password"},
		"messages": flashes(session.FromContext(r.Context())),
	})
}

func (h *Storefront) signup(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	_, err := h.Accounts.Signup(r.Context(), shop.SignupInput{
		Email:     r.FormValue("email"),
		FirstName: r.FormValue("first_name"),
		LastName:  r.FormValue("last_name"),
		Password:  r.FormValue("password"),
	})
	switch {
	case err == nil:
		s.AddFlash("success", "Account created successfully! Please login.")
		http.Redirect(w, r, "/login/", http.StatusSeeOther)
	case errors.Is(err, shop.ErrEmailTaken):
		s.AddFlash("error", "Email already registered")
		http.Redirect(w, r, "/signup/", http.StatusSeeOther)
	case errors.Is(err, shop.ErrEmailRequired):
		s.AddFlash("error", "Email is required")
		http.Redirect(w, r, "/signup/", http.StatusSeeOther)
	case errors.Is(err, shop.ErrPasswordRequired):
		s.AddFlash("error", "Password is required")
		http.Redirect(w, r, "/signup/", http.StatusSeeOther)
	default:
		h.internalError(w, "signup", err)
	}
}

func (h *Storefront) loginPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"fields":   []string{"email", "password"},
		"next":     safeNext(r.URL.Query().Get("next")),
		"messages": flashes(session.FromContext(r.Context())),
	})
}

func (h *Storefront) login(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	next := safeNext(r.FormValue("next"))

	u, err := h.Accounts.Login(r.Context(), r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		switch {
		case errors.Is(err, shop.ErrUnknownEmail):
			s.AddFlash("error", "Email not registered")
		case errors.Is(err, shop.ErrWrongPassword):
			s.AddFlash("error", "Incorrect password")
		default:
			h.internalError(w, "login", err)
			return
		}
		back := "/login/"
		if next != "/" {
			back += "?next=" + url.QueryEscape(next)
		}
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}

	s.Login(u.ID, u.Email)
	s.AddFlash("success", "Login successful!")
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (h *Storefront) logout(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	s.Logout()
	s.AddFlash("success", "Logged out successfully")
	http.Redirect(w, r, "/login/", http.StatusSeeOther)
}

func (h *Storefront) flashRedirect(level, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session.FromContext(r.Context()).AddFlash(level, msg)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (h *Storefront) checkoutPage(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	notFound := func() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "product not found", "messages": flashes(s)})
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		notFound()
		return
	}
	p, err := h.Catalog.GetProduct(r.Context(), id)
	if errors.Is(err, shop.ErrNotFound) {
		notFound()
		return
	}
	if err != nil {
		h.internalError(w, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product":  newProductView(p),
		"messages": flashes(s),
	})
}

func (h *Storefront) createPayment(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	raw := chi.URLParam(r, "productID")
	back := "/checkout/" + url.PathEscape(raw) + "/"

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.AddFlash("error", "Product not found")
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}
	qty, err := parseQuantity(r.FormValue("quantity"))
	if err != nil {
		s.AddFlash("error", "Quantity must be a whole number of at least 1")
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}

	started, err := h.Checkout.Start(r.Context(), shop.Buyer{UserID: s.UserID(), Email: s.Email()}, id, qty)
	if err != nil {
		var se *shop.StockError
		switch {
		case errors.As(err, &se):
			s.AddFlash("error", fmt.Sprintf("Requested quantity exceeds available stock (%d)", se.Available))
		case errors.Is(err, shop.ErrNotFound):
			s.AddFlash("error", "Product not found")
		case errors.Is(err, shop.ErrInvalidQuantity):
			s.AddFlash("error", "Quantity must be a whole number of at least 1")
		case errors.Is(err, shop.ErrProcessor):
			h.logger().Warn("payment session failed", zap.Int64("product_id", id), zap.Error(err))
			s.AddFlash("error", "Payment provider is unavailable, please try again")
		default:
			h.logger().Error("checkout failed", zap.Int64("product_id", id), zap.Error(err))
			s.AddFlash("error", "Could not start checkout, please try again")
		}
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, started.PaymentURL, http.StatusSeeOther)
}

func (h *Storefront) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid payload: " + err.Error()})
		return
	}

	_, err = h.Reconciler.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case errors.Is(err, shop.ErrInvalidSignature):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid signature"})
	case errors.Is(err, shop.ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid payload"})
	default:
		// not acknowledged, the processor redelivers
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Storefront) internalError(w http.ResponseWriter, op string, err error) {
	h.logger().Error(op+" failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (h *Storefront) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func flashes(s *session.Session) []session.Flash {
	if f := s.PopFlashes(); f != nil {
		return f
	}
	return []session.Flash{}
}

// parseQuantity defaults a missing field to one unit.
func parseQuantity(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: %d", shop.ErrInvalidQuantity, n)
	}
	return n, nil
}

// safeNext only follows local paths.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
