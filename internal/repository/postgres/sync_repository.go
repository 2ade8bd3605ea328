package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

type syncRepository struct {
	pool *pgxpool.Pool
}

func NewSyncRepository(pool *pgxpool.Pool) repository.SyncRepository {
	return &syncRepository{pool: pool}
}

var _ repository.SyncRepository = (*syncRepository)(nil)

// syncHistoryCTE folds the record history of one service into a row per
// references_id: the latest status, how many attempts ended in error and
// when the pair was last touched.
const syncHistoryCTE = `
	WITH history AS (
		SELECT references_id,
		       (array_agg(status ORDER BY insert_date DESC))[1]     AS last_status,
		       count(*) FILTER (WHERE status = 'error')              AS error_count,
		       max(coalesce(update_date, insert_date))               AS last_touched
		FROM sync
		WHERE service_name = $1
		GROUP BY references_id
	)
`

const syncCandidateFilter = `
	  AND (h.last_status IS NULL OR h.last_status NOT IN ('success', 'process'))
	  AND coalesce(h.error_count, 0) <= $2
`

func (r *syncRepository) Add(ctx context.Context, record *model.SyncRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.InsertDate.IsZero() {
		record.InsertDate = time.Now().UTC()
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO sync (id, references_id, service_name, status, insert_date) VALUES ($1, $2, $3, $4, $5)`,
		record.ID,
		record.ReferencesID,
		record.ServiceName,
		record.Status,
		record.InsertDate,
	)
	return err
}

func (r *syncRepository) Update(ctx context.Context, record *model.SyncRecord) error {
	now := time.Now().UTC()
	record.UpdateDate = &now

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE sync SET status = $2, update_date = $3 WHERE id = $1`,
		record.ID,
		record.Status,
		record.UpdateDate,
	)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}

func (r *syncRepository) GetPackageNotSynced(ctx context.Context, failThreshold int) ([]model.SyncCandidate, error) {
	query := syncHistoryCTE + `
		SELECT p.id, coalesce(h.last_status, ''), coalesce(h.error_count, 0), coalesce(h.last_touched, p.insert_date)
		FROM packages p
		LEFT JOIN history h ON h.references_id = p.id
		WHERE p.status = 'enable'
	` + syncCandidateFilter + `
		ORDER BY p.insert_date ASC
	`
	return r.queryCandidates(ctx, query, model.SyncServicePackage, failThreshold)
}

func (r *syncRepository) GetPackageCancelled(ctx context.Context, failThreshold int) ([]model.SyncCandidate, error) {
	query := syncHistoryCTE + `
		SELECT p.id, coalesce(h.last_status, ''), coalesce(h.error_count, 0), coalesce(h.last_touched, p.insert_date)
		FROM packages p
		LEFT JOIN history h ON h.references_id = p.id
		WHERE p.status = 'cancel'
	` + syncCandidateFilter + `
		ORDER BY p.insert_date ASC
	`
	return r.queryCandidates(ctx, query, model.SyncServiceCancelSubscription, failThreshold)
}

func (r *syncRepository) GetPackageExpired(ctx context.Context, failThreshold int) ([]model.SyncCandidate, error) {
	query := syncHistoryCTE + `
		SELECT p.id, coalesce(h.last_status, ''), coalesce(h.error_count, 0), coalesce(h.last_touched, p.insert_date)
		FROM packages p
		LEFT JOIN history h ON h.references_id = p.id
		WHERE p.status = 'expire'
	` + syncCandidateFilter + `
		ORDER BY p.insert_date ASC
	`
	return r.queryCandidates(ctx, query, model.SyncServiceExpirePackage, failThreshold)
}

func (r *syncRepository) GetUserNotSynced(ctx context.Context, failThreshold int) ([]model.SyncCandidate, error) {
	query := syncHistoryCTE + `
		SELECT u.id, coalesce(h.last_status, ''), coalesce(h.error_count, 0), coalesce(h.last_touched, u.insert_date)
		FROM users u
		LEFT JOIN history h ON h.references_id = u.id
		WHERE TRUE
	` + syncCandidateFilter + `
		ORDER BY u.insert_date ASC
	`
	return r.queryCandidates(ctx, query, model.SyncServiceUser, failThreshold)
}

func (r *syncRepository) GetInProcessBefore(ctx context.Context, before time.Time) ([]*model.SyncRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, references_id, service_name, status, insert_date, update_date
		FROM sync
		WHERE status = 'process'
		  AND coalesce(update_date, insert_date) < $1
		ORDER BY insert_date ASC
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*model.SyncRecord, 0, 8)
	for rows.Next() {
		var record model.SyncRecord
		if err := rows.Scan(
			&record.ID,
			&record.ReferencesID,
			&record.ServiceName,
			&record.Status,
			&record.InsertDate,
			&record.UpdateDate,
		); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *syncRepository) queryCandidates(ctx context.Context, query string, service model.SyncService, failThreshold int) ([]model.SyncCandidate, error) {
	rows, err := r.pool.Query(ctx, query, service, failThreshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]model.SyncCandidate, 0, 16)
	for rows.Next() {
		var (
			item   model.SyncCandidate
			status string
			errCnt int64
		)
		if err := rows.Scan(&item.ReferencesID, &status, &errCnt, &item.LastTouched); err != nil {
			return nil, err
		}
		item.ServiceName = service
		item.Status = model.SyncStatus(status)
		item.ErrorCount = int(errCnt)
		candidates = append(candidates, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}
