package customer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	maxUsernameLength = 64
)

// Service manages customer accounts.
type Service struct {
	repo Repository
	cost int
}

// NewService creates a new customer service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost}
}

// Register creates a customer and stores a bcrypt hash of the password.
func (s *Service) Register(ctx context.Context, reg Registration) (Customer, error) {
	username := strings.TrimSpace(reg.Username)
	if username == "" || len(username) > maxUsernameLength {
		return Customer{}, fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidInput, maxUsernameLength)
	}
	if len(reg.Password) < minPasswordLength {
		return Customer{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cost)
	if err != nil {
		return Customer{}, errors.Wrap(err, "hash password")
	}

	c := Customer{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Admin:        reg.Admin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Customer{}, err
	}
	return c, nil
}

// Authenticate verifies credentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Customer, error) {
	c, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrCustomerNotFound) {
		return Customer{}, ErrInvalidCredentials
	}
	if err != nil {
		return Customer{}, err
	}
	if err := bcrypt.CompareHashAndPassword(c.PasswordHash, []byte(password)); err != nil {
		return Customer{}, ErrInvalidCredentials
	}
	return c, nil
}

// GetByUsername returns a customer by username.
func (s *Service) GetByUsername(ctx context.Context, username string) (Customer, error) {
	return s.repo.FindByUsername(ctx, strings.TrimSpace(username))
}

// Get returns a customer by id.
func (s *Service) Get(ctx context.Context, id string) (Customer, error) {
	return s.repo.FindByID(ctx, id)
}
