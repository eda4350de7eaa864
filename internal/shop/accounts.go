package shop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type SignupInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

type AccountService struct {
	Accounts Accounts
	Cost     int // bcrypt cost, bcrypt.DefaultCost when zero
	Log      *zap.Logger
}

// NormalizeEmail trims the address and lowercases its domain part.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + strings.ToLower(email[at:])
}

func (s *AccountService) Signup(ctx context.Context, in SignupInput) (User, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return User{}, ErrEmailRequired
	}
	if in.Password == "" {
		return User{}, ErrPasswordRequired
	}
	if _, err := s.Accounts.GetUserByEmail(ctx, email); err == nil {
		return User{}, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	cost := s.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.Accounts.CreateUser(ctx, User{
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: string(hash),
		IsActive:     true,
	})
	if err != nil {
		return User{}, err
	}
	if s.Log != nil {
		s.Log.Info("user signed up", zap.Int64("user_id", u.ID))
	}
	return u, nil
}

func (s *AccountService) Login(ctx context.Context, email, password string) (User, error) {
	u, err := s.Accounts.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrUnknownEmail
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrWrongPassword
	}
	return u, nil
}
