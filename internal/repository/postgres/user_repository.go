package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

type userRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return &userRepository{pool: pool}
}

var _ repository.UserRepository = (*userRepository)(nil)

const userColumns = `
	id,
	username,
	password_hash,
	role,
	is_enable,
	insert_date,
	update_date
`

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) Add(ctx context.Context, user *model.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.InsertDate.IsZero() {
		user.InsertDate = time.Now().UTC()
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO users (id, username, password_hash, role, is_enable, insert_date) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.Role,
		user.IsEnable,
		user.InsertDate,
	)
	return mapInsertError(err)
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.UpdateDate = &now

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE users SET password_hash = $2, role = $3, is_enable = $4, update_date = $5 WHERE id = $1`,
		user.ID,
		user.PasswordHash,
		user.Role,
		user.IsEnable,
		user.UpdateDate,
	)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func scanUser(row rowScanner) (*model.User, error) {
	var user model.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.IsEnable,
		&user.InsertDate,
		&user.UpdateDate,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
