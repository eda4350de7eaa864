// Package session keeps the logged-in user and pending flash messages in a
// server-side store keyed by an opaque cookie token.
package session

import (
	"context"
	"time"
)

type Flash struct {
	Level   string `json:"level"` // success | error | warning
	Message string `json:"message"`
}

type Data struct {
	UserID  int64   `json:"user_id,omitempty"`
	Email   string  `json:"email,omitempty"`
	Flashes []Flash `json:"flashes,omitempty"`
}

func (d Data) empty() bool { return d.UserID == 0 && d.Email == "" && len(d.Flashes) == 0 }

type Store interface {
	// Load returns ok=false for unknown or expired tokens.
	Load(ctx context.Context, token string) (d Data, ok bool, err error)
	Save(ctx context.Context, token string, d Data, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

// Session is the per-request view of the stored data. Mutations are written
// back to the store when the response starts.
type Session struct {
	token   string
	stale   string // token to delete on commit
	data    Data
	dirty   bool
	written bool
}

type ctxKey struct{}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request's session, or a detached empty one.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok {
		return s
	}
	return &Session{}
}

func (s *Session) UserID() int64 { return s.data.UserID }

func (s *Session) Email() string { return s.data.Email }

func (s *Session) Authenticated() bool { return s.data.UserID != 0 }

// Login stores the user under a fresh token.
func (s *Session) Login(userID int64, email string) {
	s.rotate()
	s.data.UserID = userID
	s.data.Email = email
	s.dirty = true
}

// Logout drops everything, including unread flashes, and starts a new session.
func (s *Session) Logout() {
	s.rotate()
	s.data = Data{}
	s.dirty = true
}

func (s *Session) rotate() {
	if s.token != "" {
		s.stale = s.token
	}
	s.token = ""
}

func (s *Session) AddFlash(level, msg string) {
	s.data.Flashes = append(s.data.Flashes, Flash{Level: level, Message: msg})
	s.dirty = true
}

// PopFlashes returns and clears the pending messages.
func (s *Session) PopFlashes() []Flash {
	out := s.data.Flashes
	if len(out) > 0 {
		s.data.Flashes = nil
		s.dirty = true
	}
	return out
}
