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

type jobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) repository.JobRepository {
	return &jobRepository{pool: pool}
}

var _ repository.JobRepository = (*jobRepository)(nil)

const jobColumns = `
	id,
	kind,
	data,
	status,
	total_record,
	total_record_add,
	total_record_exist,
	total_record_error,
	insert_date,
	update_date
`

func (r *jobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	err := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id).Scan(
		&job.ID,
		&job.Kind,
		&job.Data,
		&job.Status,
		&job.TotalRecord,
		&job.TotalRecordAdd,
		&job.TotalRecordExist,
		&job.TotalRecordError,
		&job.InsertDate,
		&job.UpdateDate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) Add(ctx context.Context, job *model.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.InsertDate.IsZero() {
		job.InsertDate = time.Now().UTC()
	}

	query := `
		INSERT INTO jobs (
			id, kind, data, status, total_record,
			total_record_add, total_record_exist, total_record_error, insert_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(
		ctx,
		query,
		job.ID,
		job.Kind,
		job.Data,
		job.Status,
		job.TotalRecord,
		job.TotalRecordAdd,
		job.TotalRecordExist,
		job.TotalRecordError,
		job.InsertDate,
	)
	return err
}

// Update refuses to rewrite a job that already reached a terminal status.
func (r *jobRepository) Update(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	job.UpdateDate = &now

	query := `
		UPDATE jobs
		SET status = $2,
			total_record = $3,
			total_record_add = $4,
			total_record_exist = $5,
			total_record_error = $6,
			update_date = $7
		WHERE id = $1
		  AND status NOT IN ('success', 'fail')
	`
	tag, err := r.pool.Exec(
		ctx,
		query,
		job.ID,
		job.Status,
		job.TotalRecord,
		job.TotalRecordAdd,
		job.TotalRecordExist,
		job.TotalRecordError,
		job.UpdateDate,
	)
	if err != nil {
		return err
	}
	return ensureAffected(tag)
}
