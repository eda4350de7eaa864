package session

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultCookieName = "storefront_session"

type Manager struct {
	Store      Store
	CookieName string
	TTL        time.Duration
	Secure     bool
	Log        *zap.Logger
}

func (m *Manager) cookieName() string {
	if m.CookieName == "" {
		return DefaultCookieName
	}
	return m.CookieName
}

func (m *Manager) ttl() time.Duration {
	if m.TTL <= 0 {
		return redisx.TTLSession
	}
	return m.TTL
}

func (m *Manager) logger() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}

// Middleware attaches the caller's session to the request context and writes
// it back before the first byte of the response.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.load(r)
		sw := &writer{ResponseWriter: w, commit: func() { m.commit(r.Context(), w, s) }}
		next.ServeHTTP(sw, r.WithContext(NewContext(r.Context(), s)))
		sw.flushSession()
	})
}

func (m *Manager) load(r *http.Request) *Session {
	c, err := r.Cookie(m.cookieName())
	if err != nil || c.Value == "" {
		return &Session{}
	}
	d, ok, err := m.Store.Load(r.Context(), c.Value)
	if err != nil {
		m.logger().Warn("session load failed", zap.Error(err))
		return &Session{}
	}
	if !ok {
		return &Session{}
	}
	return &Session{token: c.Value, data: d}
}

func (m *Manager) commit(ctx context.Context, w http.ResponseWriter, s *Session) {
	if s.written {
		return
	}
	s.written = true

	if s.stale != "" {
		if err := m.Store.Delete(ctx, s.stale); err != nil {
			m.logger().Warn("session delete failed", zap.Error(err))
		}
	}
	if !s.dirty {
		return
	}

	if s.data.empty() {
		if s.token != "" {
			if err := m.Store.Delete(ctx, s.token); err != nil {
				m.logger().Warn("session delete failed", zap.Error(err))
			}
		}
		http.SetCookie(w, &http.Cookie{
			Name: m.cookieName(), Value: "", Path: "/", MaxAge: -1,
			HttpOnly: true, Secure: m.Secure, SameSite: http.SameSiteLaxMode,
		})
		return
	}

	if s.token == "" {
		s.token = uuid.NewString()
	}
	if err := m.Store.Save(ctx, s.token, s.data, m.ttl()); err != nil {
		m.logger().Error("session save failed", zap.Error(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName(),
		Value:    s.token,
		Path:     "/",
		MaxAge:   int(m.ttl().Seconds()),
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type writer struct {
	http.ResponseWriter
	commit func()
	done   bool
}

func (w *writer) flushSession() {
	if !w.done {
		w.done = true
		w.commit()
	}
}

func (w *writer) WriteHeader(code int) {
	w.flushSession()
	w.ResponseWriter.WriteHeader(code)
}

func (w *writer) Write(b []byte) (int, error) {
	w.flushSession()
	return w.ResponseWriter.Write(b)
}

func (w *writer) Unwrap() http.ResponseWriter { return w.ResponseWriter }
