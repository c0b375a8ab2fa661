package services

import (
	"context"
	"errors"
	"strings"

	"github.com/recipebook/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 5

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
	cost int
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo, cost: bcrypt.DefaultCost}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, translate(err)
	}
	return user, nil
}

// Register creates an active, non-staff user with a hashed password.
func (s *UserService) Register(ctx context.Context, email, name, password string) (types.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return types.User{}, NewValidationError("email", "users must have an email address")
	}
	if len(password) < minPasswordLength {
		return types.User{}, NewValidationError("password", "must be at least 5 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		IsActive:     true,
		PasswordHash: string(hashed),
	})
	if err != nil {
		return types.User{}, translate(err)
	}
	return user, nil
}

// Authenticate returns the active user matching email and password.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(translate(err), ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if !user.IsActive {
		return types.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// NormalizeEmail trims the address and lower-cases its domain part.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}
