package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

var (
	ErrNotFound  = repository.ErrNotFound
	ErrDuplicate = repository.ErrDuplicate
)

const uniqueViolation = "23505"

type rowScanner interface {
	Scan(dest ...any) error
}

func ensureAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
