package credentials

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"semaphore/records/internal/crypto"
	"semaphore/records/internal/model"
	"semaphore/records/internal/repository"
)

type memoryUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]model.User
	err    error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: map[string]model.User{}}
}

func (m *memoryUsers) CreateUser(_ context.Context, user model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Email]; ok {
		return model.User{}, repository.ErrDuplicateEmail
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	m.users[user.Email] = user
	return user, nil
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.User{}, m.err
	}
	user, ok := m.users[email]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return user, nil
}

func newService() (*Service, *memoryUsers) {
	users := newMemoryUsers()
	return NewService(users, crypto.NewHasher(bcrypt.MinCost)), users
}

func TestRegister(t *testing.T) {
	svc, users := newService()
	user, err := svc.Register(context.Background(), RegisterInput{
		Name:     "Ada Lovelace",
		Email:    "  Ada@Example.com ",
		Phone:    "555-0100",
		Password: "password123",
		Role:     model.RoleInstructor,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NotEqual(t, "password123", user.PasswordHash)
	assert.Contains(t, users.users, "ada@example.com")
}

func TestRegisterDuplicateEmailRegardlessOfOtherFields(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "p", Role: model.RoleStudent})
	require.NoError(t, err)

	variants := []RegisterInput{
		{Name: "A", Email: "a@example.com", Password: "p", Role: model.RoleStudent},
		{Name: "B", Email: "a@example.com", Phone: "1", Password: "other", Role: model.RoleInstructor},
		{Name: "C", Email: "A@EXAMPLE.COM", Password: "x", Role: model.RoleStudent},
	}
	for _, in := range variants {
		_, err := svc.Register(ctx, in)
		assert.ErrorIs(t, err, repository.ErrDuplicateEmail)
	}
}

func TestRegisterInvalidRole(t *testing.T) {
	svc, users := newService()
	for _, role := range []model.Role{"", "admin", "Student"} {
		_, err := svc.Register(context.Background(), RegisterInput{Name: "A", Email: "a@example.com", Password: "p", Role: role})
		assert.ErrorIs(t, err, ErrInvalidRole)
	}
	assert.Empty(t, users.users)
}

func TestRegisterPropagatesStoreErrors(t *testing.T) {
	svc, users := newService()
	users.err = errors.New("connection refused")
	_, err := svc.Register(context.Background(), RegisterInput{Name: "A", Email: "a@example.com", Password: "p", Role: model.RoleStudent})
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrDuplicateEmail)
}

func TestRegisterPasswordOverBcryptLimit(t *testing.T) {
	svc, users := newService()
	_, err := svc.Register(context.Background(), RegisterInput{Name: "A", Email: "a@example.com", Password: strings.Repeat("x", 73), Role: model.RoleStudent})
	assert.ErrorIs(t, err, bcrypt.ErrPasswordTooLong)
	assert.Empty(t, users.users)
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	registered, err := svc.Register(ctx, RegisterInput{Name: "S", Email: "s@example.com", Password: "right", Role: model.RoleStudent})
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "S@example.com", "right")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.True(t, svc.VerifyPassword(user, "right"))

	_, err = svc.Authenticate(ctx, "s@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "missing@example.com", "right")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
