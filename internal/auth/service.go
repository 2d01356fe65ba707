package auth

import (
	"context"
	"errors"
	"fmt"
)

// Service authenticates operators and issues access tokens.
type Service struct {
	users      UserRepository
	secret     string
	ttlMinutes int
}

// NewService creates an auth service. secret signs access tokens;
// ttlMinutes bounds their lifetime (a non-positive value uses the
// default).
func NewService(users UserRepository, secret string, ttlMinutes int) *Service {
	return &Service{users: users, secret: secret, ttlMinutes: ttlMinutes}
}

// Login verifies credentials and returns a signed access token and the
// account. Unknown usernames and wrong passwords both yield
// ErrInvalidCredentials so the response does not reveal which part
// failed.
func (s *Service) Login(ctx context.Context, username, password string) (string, *User, error) {
	if !IsValidUsername(username) {
		return "", nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return "", nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return "", nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return "", nil, ErrUserInactive
	}

	token, err := GenerateAccessToken(user, s.secret, s.ttlMinutes)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// TokenTTL returns the effective access token lifetime in seconds.
func (s *Service) TokenTTL() int {
	minutes := s.ttlMinutes
	if minutes <= 0 {
		minutes = 60
	}
	return minutes * 60
}

// Verify parses and validates an access token.
func (s *Service) Verify(token string) (*CustomClaims, error) {
	return ParseToken(token, s.secret)
}
