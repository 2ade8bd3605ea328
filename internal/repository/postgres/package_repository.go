package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

type packageRepository struct {
	pool *pgxpool.Pool
}

func NewPackageRepository(pool *pgxpool.Pool) repository.PackageRepository {
	return &packageRepository{pool: pool}
}

var _ repository.PackageRepository = (*packageRepository)(nil)

const packageColumns = `
	p.id,
	p.user_id,
	u.username,
	p.count_ip,
	p.type,
	p.country,
	p.status,
	p.renewal,
	p.expire_date,
	p.cancel_date,
	p.insert_date,
	p.update_date
`

func (r *packageRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages p JOIN users u ON u.id = p.user_id WHERE p.id = $1`
	pkg, err := scanPackage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadIPs(ctx, []*model.Package{pkg}); err != nil {
		return nil, err
	}
	return pkg, nil
}

func (r *packageRepository) GetAllByUsername(ctx context.Context, username string) ([]*model.Package, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM packages p
		JOIN users u ON u.id = p.user_id
		WHERE u.username = $1
		ORDER BY p.insert_date DESC
	`
	rows, err := r.pool.Query(ctx, query, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	packages := make([]*model.Package, 0, 8)
	for rows.Next() {
		item, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadIPs(ctx, packages); err != nil {
		return nil, err
	}
	return packages, nil
}

func (r *packageRepository) Add(ctx context.Context, pkg *model.Package) error {
	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}
	if pkg.InsertDate.IsZero() {
		pkg.InsertDate = time.Now().UTC()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		INSERT INTO packages (
			id, user_id, count_ip, type, country,
			status, renewal, expire_date, cancel_date, insert_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = tx.Exec(
		ctx,
		query,
		pkg.ID,
		pkg.UserID,
		pkg.CountIP,
		pkg.Type,
		pkg.Country,
		pkg.Status,
		pkg.Renewal,
		pkg.ExpireDate,
		pkg.CancelDate,
		pkg.InsertDate,
	)
	if err != nil {
		return mapInsertError(err)
	}
	if err := insertPackageIPs(ctx, tx, pkg.ID, pkg.IPList); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *packageRepository) Update(ctx context.Context, pkg *model.Package) error {
	now := time.Now().UTC()
	pkg.UpdateDate = &now

	query := `
		UPDATE packages
		SET count_ip = $2,
			status = $3,
			renewal = $4,
			expire_date = $5,
			cancel_date = $6,
			update_date = $7
		WHERE id = $1
	`
	tag, err := r.pool.Exec(
		ctx,
		query,
		pkg.ID,
		pkg.CountIP,
		pkg.Status,
		pkg.Renewal,
		pkg.ExpireDate,
		pkg.CancelDate,
		pkg.UpdateDate,
	)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *packageRepository) FindAvailableIPs(ctx context.Context, userID uuid.UUID, ipType, country string, limit int) ([]model.PackageIP, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT a.ip, a.port
		FROM ip_addresses a
		WHERE a.is_active = TRUE
		  AND a.type = $2
		  AND ($3 = '' OR a.country = $3)
		  AND NOT EXISTS (
			SELECT 1
			FROM package_ips pi
			JOIN packages p ON p.id = pi.package_id
			WHERE pi.ip = a.ip
			  AND pi.port = a.port
			  AND p.user_id = $1
			  AND p.status IN ('enable', 'cancel')
		  )
		ORDER BY random()
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, userID, ipType, country, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ips := make([]model.PackageIP, 0, limit)
	for rows.Next() {
		var item model.PackageIP
		if err := rows.Scan(&item.IP, &item.Port); err != nil {
			return nil, err
		}
		ips = append(ips, item)
	}
	return ips, rows.Err()
}

func (r *packageRepository) ReplaceIPs(ctx context.Context, packageID uuid.UUID, ips []model.PackageIP) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM package_ips WHERE package_id = $1`, packageID); err != nil {
		return fmt.Errorf("clear package ips: %w", err)
	}
	if err := insertPackageIPs(ctx, tx, packageID, ips); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertPackageIPs(ctx context.Context, tx pgx.Tx, packageID uuid.UUID, ips []model.PackageIP) error {
	for _, item := range ips {
		if _, err := tx.Exec(
			ctx,
			`INSERT INTO package_ips (package_id, ip, port) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			packageID,
			item.IP,
			item.Port,
		); err != nil {
			return fmt.Errorf("insert package ip: %w", err)
		}
	}
	return nil
}

func (r *packageRepository) ExpireBefore(ctx context.Context, at time.Time) ([]*model.Package, error) {
	query := `
		WITH expired AS (
			UPDATE packages
			SET status = 'expire', update_date = $1
			WHERE status IN ('enable', 'cancel')
			  AND expire_date IS NOT NULL
			  AND expire_date < $1
			RETURNING *
		)
		SELECT ` + packageColumns + `
		FROM expired p
		JOIN users u ON u.id = p.user_id
	`
	rows, err := r.pool.Query(ctx, query, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	packages := make([]*model.Package, 0, 8)
	for rows.Next() {
		item, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, item)
	}
	return packages, rows.Err()
}

func (r *packageRepository) loadIPs(ctx context.Context, packages []*model.Package) error {
	if len(packages) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(packages))
	byID := make(map[uuid.UUID]*model.Package, len(packages))
	for _, item := range packages {
		ids = append(ids, item.ID)
		byID[item.ID] = item
		item.IPList = []model.PackageIP{}
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT package_id, ip, port FROM package_ips WHERE package_id = ANY($1) ORDER BY ip ASC, port ASC`,
		ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			packageID uuid.UUID
			item      model.PackageIP
		)
		if err := rows.Scan(&packageID, &item.IP, &item.Port); err != nil {
			return err
		}
		if pkg, ok := byID[packageID]; ok {
			pkg.IPList = append(pkg.IPList, item)
		}
	}
	return rows.Err()
}

func scanPackage(row rowScanner) (*model.Package, error) {
	var pkg model.Package
	if err := row.Scan(
		&pkg.ID,
		&pkg.UserID,
		&pkg.Username,
		&pkg.CountIP,
		&pkg.Type,
		&pkg.Country,
		&pkg.Status,
		&pkg.Renewal,
		&pkg.ExpireDate,
		&pkg.CancelDate,
		&pkg.InsertDate,
		&pkg.UpdateDate,
	); err != nil {
		return nil, err
	}
	return &pkg, nil
}
