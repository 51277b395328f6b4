package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/repository"
	"ai-video-studio/internal/infra/metrics"
)

var _ repository.JobStore = (*GenerationJobRepo)(nil)

type GenerationJobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewGenerationJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *GenerationJobRepo {
	return &GenerationJobRepo{pool: pool, tm: tm}
}

const jobColumns = `id, status, progress, result_url, error_message, attempts, params::text, created_at, updated_at`

func (r *GenerationJobRepo) Create(ctx context.Context, job *model.GenerationJob) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	const q = `
INSERT INTO generation_jobs (id, status, progress, result_url, error_message, attempts, params, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
ON CONFLICT (id) DO NOTHING;`

	tag, err := execSQL(ctx, r.pool, nil, q,
		job.ID, string(job.Status), job.Progress, job.ResultURL, job.ErrorMessage, job.Attempts,
		string(params), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		metrics.IncStoreOp("postgres", "create", "error")
		return err
	}
	if tag.RowsAffected() == 0 {
		metrics.IncStoreOp("postgres", "create", "conflict")
		return domain.ErrAlreadyExists
	}
	metrics.IncStoreOp("postgres", "create", "ok")
	return nil
}

func (r *GenerationJobRepo) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	return r.find(ctx, nil, id, false)
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of fn.
func (r *GenerationJobRepo) Update(ctx context.Context, id string, fn repository.UpdateFunc) (*model.GenerationJob, error) {
	var out *model.GenerationJob
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		job, err := r.find(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		const q = `
UPDATE generation_jobs SET
  status = $2, progress = $3, result_url = $4, error_message = $5, attempts = $6, updated_at = $7
WHERE id = $1;`
		if _, err := execSQL(ctx, r.pool, tx, q,
			job.ID, string(job.Status), job.Progress, job.ResultURL, job.ErrorMessage, job.Attempts, job.UpdatedAt); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		metrics.IncStoreOp("postgres", "update", "aborted")
		return nil, err
	}
	metrics.IncStoreOp("postgres", "update", "ok")
	return out, nil
}

func (r *GenerationJobRepo) ListActive(ctx context.Context, limit int) ([]*model.GenerationJob, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := `SELECT ` + jobColumns + `
FROM generation_jobs
WHERE status IN ('pending', 'running')
ORDER BY created_at
LIMIT $1;`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *GenerationJobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	const q = `
DELETE FROM generation_jobs
WHERE status IN ('succeeded', 'failed', 'timeout') AND updated_at < $1;`
	tag, err := execSQL(ctx, r.pool, nil, q, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// PoolStats reports total, idle and acquired connections.
func (r *GenerationJobRepo) PoolStats() (total, idle, inUse int32) {
	st := r.pool.Stat()
	return st.TotalConns(), st.IdleConns(), st.AcquiredConns()
}

func (r *GenerationJobRepo) find(ctx context.Context, tx repository.Tx, id string, forUpdate bool) (*model.GenerationJob, error) {
	q := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func scanJob(row pgx.Row) (*model.GenerationJob, error) {
	var (
		job    model.GenerationJob
		status string
		params string
	)
	if err := row.Scan(&job.ID, &status, &job.Progress, &job.ResultURL, &job.ErrorMessage,
		&job.Attempts, &params, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	job.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return &job, nil
}
