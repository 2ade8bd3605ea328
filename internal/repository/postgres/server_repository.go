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

type serverRepository struct {
	pool *pgxpool.Pool
}

func NewServerRepository(pool *pgxpool.Pool) repository.ServerRepository {
	return &serverRepository{pool: pool}
}

var _ repository.ServerRepository = (*serverRepository)(nil)

const serverColumns = `
	id,
	name,
	ip_range::text[],
	host_ip_address,
	internal_host_ip_address,
	host_api_port,
	is_enable,
	insert_date,
	update_date
`

func (r *serverRepository) GetAll(ctx context.Context) ([]*model.FleetNode, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY insert_date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := make([]*model.FleetNode, 0, 8)
	for rows.Next() {
		item, err := scanFleetNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return nodes, nil
}

func (r *serverRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.FleetNode, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE id = $1`
	node, err := scanFleetNode(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (r *serverRepository) GetByIPAddress(ctx context.Context, cidr string) (*model.FleetNode, error) {
	query := `
		SELECT ` + serverColumns + `
		FROM servers
		WHERE is_enable = TRUE
		  AND EXISTS (SELECT 1 FROM unnest(ip_range) AS r WHERE $1::text::cidr <<= r)
		ORDER BY insert_date ASC
		LIMIT 1
	`
	node, err := scanFleetNode(r.pool.QueryRow(ctx, query, cidr))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (r *serverRepository) Add(ctx context.Context, node *model.FleetNode) error {
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	if node.InsertDate.IsZero() {
		node.InsertDate = time.Now().UTC()
	}

	query := `
		INSERT INTO servers (
			id, name, ip_range, host_ip_address, internal_host_ip_address,
			host_api_port, is_enable, insert_date
		)
		VALUES ($1, $2, $3::text[]::cidr[], $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(
		ctx,
		query,
		node.ID,
		node.Name,
		node.IPRange,
		node.HostIPAddress,
		node.InternalHostIPAddress,
		node.HostAPIPort,
		node.IsEnable,
		node.InsertDate,
	)
	return mapInsertError(err)
}

func (r *serverRepository) Update(ctx context.Context, node *model.FleetNode) error {
	now := time.Now().UTC()
	node.UpdateDate = &now

	query := `
		UPDATE servers
		SET name = $2,
			ip_range = $3::text[]::cidr[],
			host_ip_address = $4,
			internal_host_ip_address = $5,
			host_api_port = $6,
			is_enable = $7,
			update_date = $8
		WHERE id = $1
	`

	tag, err := r.pool.Exec(
		ctx,
		query,
		node.ID,
		node.Name,
		node.IPRange,
		node.HostIPAddress,
		node.InternalHostIPAddress,
		node.HostAPIPort,
		node.IsEnable,
		node.UpdateDate,
	)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *serverRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func scanFleetNode(row rowScanner) (*model.FleetNode, error) {
	var node model.FleetNode
	if err := row.Scan(
		&node.ID,
		&node.Name,
		&node.IPRange,
		&node.HostIPAddress,
		&node.InternalHostIPAddress,
		&node.HostAPIPort,
		&node.IsEnable,
		&node.InsertDate,
		&node.UpdateDate,
	); err != nil {
		return nil, err
	}
	if node.IPRange == nil {
		node.IPRange = []string{}
	}
	return &node, nil
}
