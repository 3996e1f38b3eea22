package repository

import (
	"context"

	"github.com/splax/cyclemon/internal/domain"
)

// CycleRepository persists production cycle records. All operations are
// safe for concurrent use; Insert reports ErrConflict when another
// writer created the same start_time first.
type CycleRepository interface {
	GetByStartTime(ctx context.Context, startTime string) (*domain.CycleRecord, error)
	Insert(ctx context.Context, record *domain.CycleRecord) error
	Update(ctx context.Context, record *domain.CycleRecord) error
	ListRecent(ctx context.Context, limit int) ([]domain.CycleRecord, error)
	ListAll(ctx context.Context) ([]domain.CycleRecord, error)
	ListCompletedRecent(ctx context.Context, limit int) ([]domain.CycleRecord, error)
	Aggregate(ctx context.Context) (domain.StatsSnapshot, error)
	AggregateDetail(ctx context.Context) (domain.StatsDetail, error)
}
