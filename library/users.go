package library

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 8

// CreateUser registers a staff account with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, name, email, password string, role Role) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if strings.TrimSpace(name) == "" {
		return User{}, invalid("name", "is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, invalid("email", "%q is not a valid address", email)
	}
	if !role.Valid() || role == RoleGuest {
		return User{}, invalid("role", "unknown role %q", role)
	}
	if len(password) < minPasswordLen {
		return User{}, invalid("password", "must be at least %d characters", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	u := User{
		ID:           s.newID(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.Now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	s.log.Info("user created", "user", u.ID, "role", u.Role)
	return u, nil
}

// Authenticate checks an email/password pair. Unknown emails and wrong
// passwords produce the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return User{}, conflict(CodeInvalidCredentials, "invalid email or password")
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, conflict(CodeInvalidCredentials, "invalid email or password")
	}
	return u, nil
}

// EnsureUser creates the account unless one with that email exists.
// Used to bootstrap the first administrator.
func (s *Service) EnsureUser(ctx context.Context, name, email, password string, role Role) (User, bool, error) {
	existing, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, err
	}
	u, err := s.CreateUser(ctx, name, email, password, role)
	return u, err == nil, err
}
