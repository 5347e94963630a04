package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MediSynth-io/messagely/internal/metrics"
	"github.com/MediSynth-io/messagely/internal/models"
)

var (
	// ErrNotFound is returned by Authenticate when the username is unknown.
	ErrNotFound = models.ErrNotFound
	// ErrInvalidCredentials is returned by Authenticate on a password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden means the caller is authenticated but not allowed.
	ErrForbidden = errors.New("forbidden")
)

// UserStore is the persistence the auth service needs.
type UserStore interface {
	FindUser(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, nu models.NewUser) (*models.User, error)
	TouchLastLogin(ctx context.Context, username string) (time.Time, error)
}

// Registration is the input to Register. Password is plaintext and is hashed
// before it reaches the store.
type Registration struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// Service registers and logs in users.
type Service struct {
	users   UserStore
	hasher  *PasswordHasher
	tokens  *TokenManager
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewService(users UserStore, hasher *PasswordHasher, tokens *TokenManager, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		logger:  logger,
		metrics: m,
	}
}

// Register creates the user, records the login and returns a session token.
// A taken username returns models.ErrUsernameTaken.
func (s *Service) Register(ctx context.Context, reg Registration) (string, error) {
	hashed, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return "", err
	}

	user, err := s.users.CreateUser(ctx, models.NewUser{
		Username:  reg.Username,
		Password:  hashed,
		FirstName: reg.FirstName,
		LastName:  reg.LastName,
		Phone:     reg.Phone,
	})
	if err != nil {
		return "", err
	}

	if _, err := s.users.TouchLastLogin(ctx, user.Username); err != nil {
		return "", fmt.Errorf("record login: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("username", user.Username))
	return s.tokens.Issue(user.Username)
}

// Authenticate checks username and password. It returns ErrNotFound for an
// unknown user and ErrInvalidCredentials for a wrong password; callers must not
// expose the difference.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.users.FindUser(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.hasher.burn(password)
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !s.hasher.Verify(password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates the user, updates last_login_at and returns a token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidCredentials) {
			s.metrics.ObserveLogin("failure")
		} else {
			s.metrics.ObserveLogin("error")
		}
		return "", err
	}

	if _, err := s.users.TouchLastLogin(ctx, user.Username); err != nil {
		s.metrics.ObserveLogin("error")
		return "", fmt.Errorf("record login: %w", err)
	}

	s.metrics.ObserveLogin("success")
	return s.tokens.Issue(user.Username)
}
