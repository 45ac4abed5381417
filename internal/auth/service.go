// Package auth handles password hashing, bearer tokens and the identity
// attached to a request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/Brownie44l1/visionai-api/internal/logger"
	"github.com/Brownie44l1/visionai-api/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserExists         = errors.New("username is already registered")
	ErrInvalidInput       = errors.New("invalid input")
)

// Length limits for registration. bcrypt ignores bytes past 72.
const (
	MinUsernameLen = 3
	MaxUsernameLen = 50
	MinPasswordLen = 6
	MaxPasswordLen = 72
)

// UserStore is the slice of the store the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, hashedPassword string) (store.User, error)
	UserByUsername(ctx context.Context, username string) (store.User, error)
}

type Service struct {
	users  UserStore
	tokens *TokenIssuer
	log    *logger.Logger

	// compared against on unknown usernames so both paths pay for bcrypt
	dummyHash string
}

func NewService(users UserStore, tokens *TokenIssuer, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.Nop()
	}
	dummy, err := HashPassword("visionai-placeholder")
	if err != nil {
		return nil, err
	}
	return &Service{
		users:     users,
		tokens:    tokens,
		log:       log.With("service", "AuthService"),
		dummyHash: dummy,
	}, nil
}

func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Register creates an active user after validating lengths and uniqueness.
func (s *Service) Register(ctx context.Context, username, password string) (store.User, error) {
	if err := validateRegistration(username, password); err != nil {
		return store.User{}, err
	}

	if _, err := s.users.UserByUsername(ctx, username); err == nil {
		s.log.Warn("registration with existing username", "username", username)
		return store.User{}, ErrUserExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return store.User{}, err
	}
	u, err := s.users.CreateUser(ctx, username, hashed)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.User{}, ErrUserExists
		}
		return store.User{}, err
	}
	s.log.Info("user registered", "username", username, "user_id", u.ID)
	return u, nil
}

// Login checks credentials and returns a signed access token. Unknown users,
// wrong passwords and inactive accounts all yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	u, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("lookup user: %w", err)
		}
		CheckPassword(s.dummyHash, password)
		s.log.Warn("failed login", "username", username)
		return "", ErrInvalidCredentials
	}
	if !CheckPassword(u.HashedPassword, password) || !u.IsActive {
		s.log.Warn("failed login", "username", username)
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(u.Username)
	if err != nil {
		return "", err
	}
	s.log.Info("login succeeded", "username", username)
	return token, nil
}

// CurrentUser verifies token and loads the user it names.
func (s *Service) CurrentUser(ctx context.Context, token string) (store.User, error) {
	username, err := s.tokens.Verify(token)
	if err != nil {
		return store.User{}, err
	}
	u, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, fmt.Errorf("%w: unknown user", ErrInvalidToken)
		}
		return store.User{}, err
	}
	return u, nil
}

// Resolve maps a bearer token to the identity stamped on predictions.
// Inactive accounts do not resolve.
func (s *Service) Resolve(ctx context.Context, token string) (Identity, error) {
	u, err := s.CurrentUser(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if !u.IsActive {
		return Identity{}, fmt.Errorf("%w: inactive user", ErrInvalidToken)
	}
	return Identity{UserID: u.ID, Username: u.Username}, nil
}

func validateRegistration(username, password string) error {
	if n := utf8.RuneCountInString(username); n < MinUsernameLen || n > MaxUsernameLen {
		return fmt.Errorf("%w: username must be between %d and %d characters", ErrInvalidInput, MinUsernameLen, MaxUsernameLen)
	}
	if utf8.RuneCountInString(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return fmt.Errorf("%w: password must be between %d and %d characters", ErrInvalidInput, MinPasswordLen, MaxPasswordLen)
	}
	return nil
}
