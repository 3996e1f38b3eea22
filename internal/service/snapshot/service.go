package snapshot

import (
	"context"

	"github.com/splax/cyclemon/internal/domain"
	"github.com/splax/cyclemon/internal/repository"
)

const (
	defaultRecentLimit = 5
	defaultChartLimit  = 10
)

// Service assembles observer snapshots and serves the polling read
// paths. Pure reads over the cycle store, safe at any time, including
// against an empty store.
type Service struct {
	repo        repository.CycleRepository
	recentLimit int
	chartLimit  int
}

// New constructs a snapshot service.
func New(repo repository.CycleRepository, recentLimit, chartLimit int) Service {
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}
	if chartLimit <= 0 {
		chartLimit = defaultChartLimit
	}
	return Service{repo: repo, recentLimit: recentLimit, chartLimit: chartLimit}
}

// Initial builds the point-in-time bundle for a newly connected
// observer: recent records, current stats and the completed-cycle
// chart series ordered oldest first.
func (s Service) Initial(ctx context.Context) (domain.Snapshot, error) {
	recent, err := s.repo.ListRecent(ctx, s.recentLimit)
	if err != nil {
		return domain.Snapshot{}, err
	}
	stats, err := s.repo.Aggregate(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	completed, err := s.repo.ListCompletedRecent(ctx, s.chartLimit)
	if err != nil {
		return domain.Snapshot{}, err
	}

	// The store returns newest first; charts read left to right.
	points := make([]domain.ChartPoint, 0, len(completed))
	for i := len(completed) - 1; i >= 0; i-- {
		record := completed[i]
		points = append(points, domain.ChartPoint{
			StartTime:       record.StartTime,
			ScrewSeconds:    record.ScrewSeconds,
			FunctionSeconds: record.FunctionSeconds,
			LabelSeconds:    record.LabelSeconds,
			CycleTime:       record.CycleTime,
			OutputNo:        record.OutputNo,
		})
	}

	return domain.Snapshot{RecentData: recent, Stats: stats, ChartData: points}, nil
}

// Stats returns the current aggregate with per-phase averages.
func (s Service) Stats(ctx context.Context) (domain.StatsDetail, error) {
	return s.repo.AggregateDetail(ctx)
}

// Recent returns the newest records, capped at limit (the configured
// default when limit is not positive).
func (s Service) Recent(ctx context.Context, limit int) ([]domain.CycleRecord, error) {
	if limit <= 0 {
		limit = s.recentLimit
	}
	return s.repo.ListRecent(ctx, limit)
}

// All returns the full history, newest first.
func (s Service) All(ctx context.Context) ([]domain.CycleRecord, error) {
	return s.repo.ListAll(ctx)
}
