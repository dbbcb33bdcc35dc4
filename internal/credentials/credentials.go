package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"semaphore/records/internal/model"
	"semaphore/records/internal/repository"
)

var (
	ErrInvalidRole        = errors.New("invalid_role")
	ErrInvalidCredentials = errors.New("invalid_credentials")
)

type UserStore interface {
	CreateUser(ctx context.Context, user model.User) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

type RegisterInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
	Role     model.Role
}

// Service owns user identity: registration, lookup and password checks.
type Service struct {
	users  UserStore
	hasher PasswordHasher
}

func NewService(users UserStore, hasher PasswordHasher) *Service {
	return &Service{users: users, hasher: hasher}
}

func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// Register creates a user with a hashed password. It fails with ErrInvalidRole
// or repository.ErrDuplicateEmail.
func (s *Service) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	if !in.Role.Valid() {
		return model.User{}, ErrInvalidRole
	}
	email := NormalizeEmail(in.Email)

	_, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return model.User{}, repository.ErrDuplicateEmail
	case !errors.Is(err, repository.ErrNotFound):
		return model.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, model.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: hash,
		Role:         in.Role,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.User{}, err
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Service) FindByEmail(ctx context.Context, email string) (model.User, error) {
	return s.users.GetUserByEmail(ctx, NormalizeEmail(email))
}

func (s *Service) VerifyPassword(user model.User, candidate string) bool {
	return s.hasher.Verify(candidate, user.PasswordHash)
}

// Authenticate answers ErrInvalidCredentials for both unknown emails and wrong
// passwords so callers cannot tell which one failed.
func (s *Service) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, ErrInvalidCredentials
		}
		return model.User{}, err
	}
	if !s.VerifyPassword(user, password) {
		return model.User{}, ErrInvalidCredentials
	}
	return user, nil
}
