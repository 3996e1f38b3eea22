package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/cyclemon/internal/domain"
	"github.com/splax/cyclemon/internal/repository"
)

// Repository implements the cycle store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.CycleRepository = (*Repository)(nil)

const recordColumns = `id, start_time, screw_seconds, function_seconds, label_seconds, end_time, cycle_time, status, output_no, created_at`

// GetByStartTime fetches the cycle keyed by start_time.
func (r *Repository) GetByStartTime(ctx context.Context, startTime string) (*domain.CycleRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM cycles WHERE start_time = $1`
	row := r.pool.QueryRow(ctx, query, startTime)
	record, err := scanRecordRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

// Insert creates a new cycle and fills the store-assigned identifier
// and creation timestamp. A duplicate start_time maps to ErrConflict.
func (r *Repository) Insert(ctx context.Context, record *domain.CycleRecord) error {
	const query = `INSERT INTO cycles (start_time, screw_seconds, function_seconds, label_seconds, end_time, cycle_time, status, output_no)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		record.StartTime,
		record.ScrewSeconds,
		record.FunctionSeconds,
		record.LabelSeconds,
		record.EndTime,
		record.CycleTime,
		record.Status,
		intPtrToNil(record.OutputNo),
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

// Update mutates an existing cycle by identifier.
func (r *Repository) Update(ctx context.Context, record *domain.CycleRecord) error {
	const query = `UPDATE cycles
		SET screw_seconds = $2,
			function_seconds = $3,
			label_seconds = $4,
			end_time = $5,
			cycle_time = $6,
			status = $7,
			output_no = $8
		WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query,
		record.ID,
		record.ScrewSeconds,
		record.FunctionSeconds,
		record.LabelSeconds,
		record.EndTime,
		record.CycleTime,
		record.Status,
		intPtrToNil(record.OutputNo),
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListRecent returns the newest cycles first, capped at limit.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]domain.CycleRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	const query = `SELECT ` + recordColumns + ` FROM cycles ORDER BY id DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListAll returns every cycle, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]domain.CycleRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM cycles ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListCompletedRecent returns the newest completed cycles with a
// positive cycle time, newest first; callers reverse for charting.
func (r *Repository) ListCompletedRecent(ctx context.Context, limit int) ([]domain.CycleRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT ` + recordColumns + ` FROM cycles
		WHERE status = $1 AND cycle_time > 0
		ORDER BY id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, domain.StatusFinished, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Aggregate recomputes summary counters over the whole record set. An
// empty table yields zeroes, never NULLs.
func (r *Repository) Aggregate(ctx context.Context) (domain.StatsSnapshot, error) {
	const query = `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE status = $1),
		COUNT(*) FILTER (WHERE status <> $1),
		COALESCE(AVG(cycle_time), 0)
	FROM cycles`
	var stats domain.StatsSnapshot
	err := r.pool.QueryRow(ctx, query, domain.StatusFinished).Scan(
		&stats.TotalParts,
		&stats.CompletedParts,
		&stats.InProgress,
		&stats.AvgCycle,
	)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	return stats, nil
}

// AggregateDetail extends Aggregate with per-phase averages.
func (r *Repository) AggregateDetail(ctx context.Context) (domain.StatsDetail, error) {
	const query = `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE status = $1),
		COUNT(*) FILTER (WHERE status <> $1),
		COALESCE(AVG(cycle_time), 0),
		COALESCE(AVG(screw_seconds), 0),
		COALESCE(AVG(function_seconds), 0),
		COALESCE(AVG(label_seconds), 0)
	FROM cycles`
	var detail domain.StatsDetail
	err := r.pool.QueryRow(ctx, query, domain.StatusFinished).Scan(
		&detail.TotalParts,
		&detail.CompletedParts,
		&detail.InProgress,
		&detail.AvgCycle,
		&detail.AvgScrew,
		&detail.AvgFunction,
		&detail.AvgLabel,
	)
	if err != nil {
		return domain.StatsDetail{}, err
	}
	return detail, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordRow(row rowScanner) (*domain.CycleRecord, error) {
	var (
		record   domain.CycleRecord
		endTime  sql.NullString
		outputNo sql.NullInt32
	)
	if err := row.Scan(
		&record.ID,
		&record.StartTime,
		&record.ScrewSeconds,
		&record.FunctionSeconds,
		&record.LabelSeconds,
		&endTime,
		&record.CycleTime,
		&record.Status,
		&outputNo,
		&record.CreatedAt,
	); err != nil {
		return nil, err
	}
	if endTime.Valid {
		record.EndTime = endTime.String
	}
	if outputNo.Valid {
		value := int(outputNo.Int32)
		record.OutputNo = &value
	}
	return &record, nil
}

func scanRecords(rows pgx.Rows) ([]domain.CycleRecord, error) {
	records := make([]domain.CycleRecord, 0)
	for rows.Next() {
		record, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func intPtrToNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
