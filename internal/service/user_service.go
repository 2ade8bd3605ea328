package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 64
	minPasswordLength = 6
)

// UserService runs user operations against this node's storage only.
// Passwords are hashed here; peers receive the hash.
type UserService struct {
	users    repository.UserRepository
	logger   *zap.Logger
	hashCost int
	now      func() time.Time
}

func NewUserService(users repository.UserRepository, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		users:    users,
		logger:   logger,
		hashCost: bcrypt.DefaultCost,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) Add(ctx context.Context, username, password string) (*model.User, error) {
	return s.add(ctx, username, password, model.UserRoleUser)
}

func (s *UserService) AddAdmin(ctx context.Context, username, password string) (*model.User, error) {
	return s.add(ctx, username, password, model.UserRoleAdmin)
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("get user", err)
	}
	return user, nil
}

func (s *UserService) ChangePassword(ctx context.Context, id uuid.UUID, password string) (*model.User, error) {
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, infraError("hash password", err)
	}
	user.PasswordHash = string(hash)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, storeError("update user", err)
	}
	return user, nil
}

func (s *UserService) Disable(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.setEnable(ctx, id, false)
}

func (s *UserService) Enable(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.setEnable(ctx, id, true)
}

// ApplyUser stores a user created on another node, keeping its id and hash.
// Re-applying the same user is not an error.
func (s *UserService) ApplyUser(ctx context.Context, user *model.User) error {
	if user == nil || user.ID == uuid.Nil || strings.TrimSpace(user.Username) == "" || user.PasswordHash == "" {
		return fmt.Errorf("%w: replicated user is incomplete", ErrInvalidInput)
	}

	existing, err := s.users.GetByID(ctx, user.ID)
	switch {
	case err == nil:
		if existing.Username != user.Username {
			return fmt.Errorf("user %s: %w", user.ID, ErrConflict)
		}
		existing.PasswordHash = user.PasswordHash
		existing.Role = user.Role
		existing.IsEnable = user.IsEnable
		return storeError("update user", s.users.Update(ctx, existing))
	case !errors.Is(err, repository.ErrNotFound):
		return infraError("get user", err)
	}

	copied := *user
	if copied.InsertDate.IsZero() {
		copied.InsertDate = s.now()
	}
	if err := s.users.Add(ctx, &copied); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("username %s: %w", user.Username, ErrConflict)
		}
		return infraError("insert user", err)
	}
	return nil
}

func (s *UserService) ApplyPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	if passwordHash == "" {
		return fmt.Errorf("%w: password hash is required", ErrInvalidInput)
	}
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	user.PasswordHash = passwordHash
	return storeError("update user", s.users.Update(ctx, user))
}

func (s *UserService) ApplyStatus(ctx context.Context, id uuid.UUID, isEnable bool) error {
	_, err := s.setEnable(ctx, id, isEnable)
	return err
}

func (s *UserService) add(ctx context.Context, username, password string, role model.UserRole) (*model.User, error) {
	name := strings.TrimSpace(username)
	if len(name) < minUsernameLength || len(name) > maxUsernameLength {
		return nil, fmt.Errorf("%w: username must have %d-%d characters", ErrInvalidInput, minUsernameLength, maxUsernameLength)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	_, err := s.users.GetByUsername(ctx, name)
	if err == nil {
		return nil, fmt.Errorf("username %s: %w", name, ErrConflict)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, infraError("get user by username", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, infraError("hash password", err)
	}

	user := &model.User{
		ID:           uuid.New(),
		Username:     name,
		PasswordHash: string(hash),
		Role:         role,
		IsEnable:     true,
		InsertDate:   s.now(),
	}
	if err := s.users.Add(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("username %s: %w", name, ErrConflict)
		}
		return nil, infraError("insert user", err)
	}
	return user, nil
}

func (s *UserService) setEnable(ctx context.Context, id uuid.UUID, isEnable bool) (*model.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsEnable == isEnable {
		return nil, fmt.Errorf("user %s already has is_enable=%t: %w", id, isEnable, ErrConflict)
	}
	user.IsEnable = isEnable
	if err := s.users.Update(ctx, user); err != nil {
		return nil, storeError("update user", err)
	}
	return user, nil
}
