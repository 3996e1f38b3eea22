package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/splax/cyclemon/internal/domain"
	"github.com/splax/cyclemon/internal/mqtt"
	"github.com/splax/cyclemon/internal/repository"
	"github.com/splax/cyclemon/internal/ws"
)

const defaultStoreTimeout = 10 * time.Second

// Service turns inbound telemetry events into cycle upserts and pushes
// the reconciled view to every connected observer.
type Service struct {
	repo         repository.CycleRepository
	hub          *ws.Hub
	logger       *slog.Logger
	storeTimeout time.Duration
}

// New constructs the ingest service.
func New(repo repository.CycleRepository, hub *ws.Hub, logger *slog.Logger, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	if hub == nil {
		hub = ws.NewHub()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		hub:          hub,
		logger:       logger.With("component", "ingest"),
		storeTimeout: storeTimeout,
	}
}

// Run consumes the inbound stream until the context is cancelled.
// Events are handled strictly one at a time: an event is persisted,
// aggregated and broadcast before the next one is read, so observers
// never see a record/stats pair from two different events interleaved.
func (s *Service) Run(ctx context.Context, messages <-chan mqtt.Message) {
	s.logger.Info("ingest loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ingest loop stopped")
			return
		case msg, ok := <-messages:
			if !ok {
				s.logger.Info("inbound channel closed")
				return
			}
			if err := s.Process(ctx, msg.Payload); err != nil {
				s.logger.Warn("event dropped", "error", err)
			}
		}
	}
}

// Process reconciles one raw payload. Failures are contained to the
// event: a decode or store error drops it, nothing is broadcast, and
// the next event is unaffected.
func (s *Service) Process(ctx context.Context, raw []byte) error {
	event, err := DecodeEvent(raw)
	if err != nil {
		eventsTotal.WithLabelValues(resultDecodeError).Inc()
		return err
	}

	started := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	update, err := s.reconcile(opCtx, event)
	if err != nil {
		eventsTotal.WithLabelValues(resultStoreError).Inc()
		return fmt.Errorf("reconcile cycle %s: %w", event.StartTime, err)
	}

	stats, err := s.repo.Aggregate(opCtx)
	if err != nil {
		eventsTotal.WithLabelValues(resultStoreError).Inc()
		return fmt.Errorf("aggregate after cycle %s: %w", event.StartTime, err)
	}

	s.broadcast(update, stats)
	eventsTotal.WithLabelValues(resultOK).Inc()
	reconcileLatency.Observe(time.Since(started).Seconds())

	s.logger.Info("event reconciled",
		"start_time", update.StartTime,
		"status", update.Status,
		"cycle_time", update.CycleTime,
		"is_new", update.IsNew,
	)
	return nil
}

// reconcile merges the event into the record keyed by its start_time:
// a known start_time is a continuation and updates in place under the
// existing identifier, an unknown one inserts a new record.
func (s *Service) reconcile(ctx context.Context, event domain.TelemetryEvent) (domain.RecordUpdate, error) {
	finalCycleTime := event.TotalDuration()
	if event.CycleTime != nil {
		finalCycleTime = *event.CycleTime
	}

	record := &domain.CycleRecord{
		StartTime:       event.StartTime,
		ScrewSeconds:    event.ScrewDuration,
		FunctionSeconds: event.FunctionDuration,
		LabelSeconds:    event.LabelDuration,
		EndTime:         event.EndTime,
		CycleTime:       finalCycleTime,
		Status:          event.Status,
		OutputNo:        event.OutputNumber,
	}

	existing, err := s.repo.GetByStartTime(ctx, event.StartTime)
	switch {
	case err == nil:
		record.ID = existing.ID
		if err := s.repo.Update(ctx, record); err != nil {
			return domain.RecordUpdate{}, err
		}
		return updateFor(record, false), nil
	case errors.Is(err, repository.ErrNotFound):
	default:
		return domain.RecordUpdate{}, err
	}

	err = s.repo.Insert(ctx, record)
	if err == nil {
		cyclesStarted.Inc()
		return updateFor(record, true), nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return domain.RecordUpdate{}, err
	}

	// Lost the insert race: another event created this cycle between
	// our lookup and insert. Treat it as a continuation.
	existing, err = s.repo.GetByStartTime(ctx, event.StartTime)
	if err != nil {
		return domain.RecordUpdate{}, err
	}
	record.ID = existing.ID
	if err := s.repo.Update(ctx, record); err != nil {
		return domain.RecordUpdate{}, err
	}
	return updateFor(record, false), nil
}

// broadcast emits the record update followed by the refreshed stats.
// Both frames go out from the ingest goroutine, so every observer sees
// them in that order.
func (s *Service) broadcast(update domain.RecordUpdate, stats domain.StatsSnapshot) {
	payload, err := ws.Envelope(ws.EventRealtimeUpdate, update)
	if err != nil {
		s.logger.Warn("failed to marshal record update", "error", err)
		return
	}
	s.hub.Broadcast(payload)

	payload, err = ws.Envelope(ws.EventStatsUpdate, stats)
	if err != nil {
		s.logger.Warn("failed to marshal stats update", "error", err)
		return
	}
	s.hub.Broadcast(payload)
}

func updateFor(record *domain.CycleRecord, isNew bool) domain.RecordUpdate {
	return domain.RecordUpdate{
		ID:              record.ID,
		StartTime:       record.StartTime,
		ScrewSeconds:    record.ScrewSeconds,
		FunctionSeconds: record.FunctionSeconds,
		LabelSeconds:    record.LabelSeconds,
		EndTime:         record.EndTime,
		CycleTime:       record.CycleTime,
		Status:          record.Status,
		OutputNo:        record.OutputNo,
		IsNew:           isNew,
	}
}
