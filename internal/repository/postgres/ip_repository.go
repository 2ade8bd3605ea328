package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

type ipRepository struct {
	pool *pgxpool.Pool
}

func NewIPRepository(pool *pgxpool.Pool) repository.IPRepository {
	return &ipRepository{pool: pool}
}

var _ repository.IPRepository = (*ipRepository)(nil)

const ipColumns = `
	ip,
	mask,
	gateway,
	interface,
	port,
	type,
	country,
	is_active,
	insert_date,
	update_date
`

func (r *ipRepository) GetByIPMask(ctx context.Context, cidr string) ([]*model.IPAddress, error) {
	query := `
		SELECT ` + ipColumns + `
		FROM ip_addresses
		WHERE ip::inet <<= $1::text::cidr
		ORDER BY ip::inet ASC, port ASC
	`
	return r.query(ctx, query, cidr)
}

func (r *ipRepository) GetAll(ctx context.Context) ([]*model.IPAddress, error) {
	query := `
		SELECT ` + ipColumns + `
		FROM ip_addresses
		WHERE is_active = TRUE
		ORDER BY ip::inet ASC, port ASC
	`
	return r.query(ctx, query)
}

func (r *ipRepository) ActiveIPMask(ctx context.Context, cidr string) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE ip_addresses SET is_active = TRUE, update_date = $2 WHERE ip::inet <<= $1::text::cidr`,
		cidr,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *ipRepository) AddBatch(ctx context.Context, addresses []*model.IPAddress) (int, error) {
	if len(addresses) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, item := range addresses {
		if item.InsertDate.IsZero() {
			item.InsertDate = now
		}
		batch.Queue(`
			INSERT INTO ip_addresses (ip, mask, gateway, interface, port, type, country, is_active, insert_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (ip, port) DO NOTHING
		`, item.IP, item.Mask, item.Gateway, item.Interface, item.Port, item.Type, item.Country, item.IsActive, item.InsertDate)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range addresses {
		tag, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (r *ipRepository) DeleteByIPMask(ctx context.Context, cidr string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM ip_addresses WHERE ip::inet <<= $1::text::cidr`, cidr)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *ipRepository) query(ctx context.Context, query string, args ...any) ([]*model.IPAddress, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*model.IPAddress, 0, 32)
	for rows.Next() {
		var item model.IPAddress
		if err := rows.Scan(
			&item.IP,
			&item.Mask,
			&item.Gateway,
			&item.Interface,
			&item.Port,
			&item.Type,
			&item.Country,
			&item.IsActive,
			&item.InsertDate,
			&item.UpdateDate,
		); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
