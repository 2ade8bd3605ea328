package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

func TestUserRepository_AddDuplicateUsername(t *testing.T) {
	pool := startPostgresForTest(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	first := &model.User{ID: uuid.New(), Username: "alice", PasswordHash: "hash", Role: model.UserRoleUser, IsEnable: true}
	if err := repo.Add(ctx, first); err != nil {
		t.Fatalf("add user: %v", err)
	}

	second := &model.User{ID: uuid.New(), Username: "alice", PasswordHash: "hash", Role: model.UserRoleUser, IsEnable: true}
	if err := repo.Add(ctx, second); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestUserRepository_UpdateRoundTrip(t *testing.T) {
	pool := startPostgresForTest(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	user := &model.User{ID: uuid.New(), Username: "bob", PasswordHash: "old", Role: model.UserRoleUser, IsEnable: true}
	if err := repo.Add(ctx, user); err != nil {
		t.Fatalf("add user: %v", err)
	}

	user.PasswordHash = "new"
	user.IsEnable = false
	if err := repo.Update(ctx, user); err != nil {
		t.Fatalf("update user: %v", err)
	}

	got, err := repo.GetByUsername(ctx, "bob")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if got.ID != user.ID || got.PasswordHash != "new" || got.IsEnable {
		t.Fatalf("unexpected user after update: %+v", got)
	}
	if got.UpdateDate == nil {
		t.Fatal("expected update_date to be set")
	}
}

func TestUserRepository_GetByUsernameNotFound(t *testing.T) {
	pool := startPostgresForTest(t)
	repo := NewUserRepository(pool)

	user, err := repo.GetByUsername(context.Background(), "missing-user")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil user, got %+v", user)
	}
}
