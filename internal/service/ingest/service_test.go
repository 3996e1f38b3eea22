package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/splax/cyclemon/internal/domain"
	"github.com/splax/cyclemon/internal/mqtt"
	"github.com/splax/cyclemon/internal/repository"
	"github.com/splax/cyclemon/internal/ws"
)

func TestProcessNewEventInsertsAndBroadcasts(t *testing.T) {
	repo := newStubCycleRepo()
	hub := ws.NewHub()
	svc := New(repo, hub, nil, time.Second)

	subscriber := newTestSubscriber()
	hub.Register(subscriber)

	raw := []byte(`{
		"start_time": "2026-01-15 08:30:00",
		"status": "Running",
		"screw_duration": 2,
		"function_duration": 2,
		"label_duration": 1
	}`)
	if err := svc.Process(context.Background(), raw); err != nil {
		t.Fatalf("process: %v", err)
	}

	records := repo.recordsSnapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record persisted, got %d", len(records))
	}
	stored := records["2026-01-15 08:30:00"]
	if stored.ID != 1 {
		t.Fatalf("expected id 1 assigned, got %d", stored.ID)
	}
	if stored.CycleTime != 5 {
		t.Fatalf("expected cycle_time summed from phases, got %v", stored.CycleTime)
	}
	if repo.insertCount() != 1 || repo.updateCount() != 0 {
		t.Fatalf("expected one insert and no updates, got %d/%d", repo.insertCount(), repo.updateCount())
	}

	first := subscriber.next(t)
	if first["event"] != ws.EventRealtimeUpdate {
		t.Fatalf("expected realtime-update first, got %v", first["event"])
	}
	data := first["data"].(map[string]any)
	if data["is_new"] != true {
		t.Fatalf("expected is_new true, got %v", data["is_new"])
	}
	if ct, ok := data["cycle_time"].(float64); !ok || ct != 5 {
		t.Fatalf("unexpected broadcast cycle_time %v", data["cycle_time"])
	}
	if id, ok := data["id"].(float64); !ok || int64(id) != 1 {
		t.Fatalf("unexpected broadcast id %v", data["id"])
	}

	second := subscriber.next(t)
	if second["event"] != ws.EventStatsUpdate {
		t.Fatalf("expected stats-update after record, got %v", second["event"])
	}
	stats := second["data"].(map[string]any)
	if total, ok := stats["total_parts"].(float64); !ok || int64(total) != 1 {
		t.Fatalf("unexpected total_parts %v", stats["total_parts"])
	}
	if progress, ok := stats["in_progress"].(float64); !ok || int64(progress) != 1 {
		t.Fatalf("unexpected in_progress %v", stats["in_progress"])
	}
}

func TestProcessContinuationUpdatesInPlace(t *testing.T) {
	repo := newStubCycleRepo()
	repo.seed(domain.CycleRecord{
		ID:              7,
		StartTime:       "2026-01-15 08:30:00",
		ScrewSeconds:    2,
		FunctionSeconds: 2,
		LabelSeconds:    1,
		CycleTime:       5,
		Status:          "Running",
	})
	hub := ws.NewHub()
	svc := New(repo, hub, nil, time.Second)

	subscriber := newTestSubscriber()
	hub.Register(subscriber)

	raw := []byte(`{
		"start_time": "2026-01-15 08:30:00",
		"end_time": "2026-01-15 08:30:10",
		"status": "Finish",
		"screw_duration": 3,
		"function_duration": 4,
		"label_duration": 3,
		"output_number": 12
	}`)
	if err := svc.Process(context.Background(), raw); err != nil {
		t.Fatalf("process: %v", err)
	}

	records := repo.recordsSnapshot()
	if len(records) != 1 {
		t.Fatalf("expected record count unchanged, got %d", len(records))
	}
	stored := records["2026-01-15 08:30:00"]
	if stored.ID != 7 {
		t.Fatalf("expected identifier preserved, got %d", stored.ID)
	}
	if stored.CycleTime != 10 {
		t.Fatalf("expected cycle_time 10, got %v", stored.CycleTime)
	}
	if stored.Status != domain.StatusFinished {
		t.Fatalf("unexpected status %q", stored.Status)
	}
	if stored.OutputNo == nil || *stored.OutputNo != 12 {
		t.Fatalf("unexpected output %v", stored.OutputNo)
	}
	if repo.insertCount() != 0 || repo.updateCount() != 1 {
		t.Fatalf("expected update only, got %d inserts %d updates", repo.insertCount(), repo.updateCount())
	}

	update := subscriber.next(t)
	data := update["data"].(map[string]any)
	if data["is_new"] != false {
		t.Fatalf("expected is_new false for continuation, got %v", data["is_new"])
	}
	if id, ok := data["id"].(float64); !ok || int64(id) != 7 {
		t.Fatalf("expected broadcast to carry id 7, got %v", data["id"])
	}
}

func TestProcessExplicitCycleTimeWins(t *testing.T) {
	repo := newStubCycleRepo()
	svc := New(repo, ws.NewHub(), nil, time.Second)

	raw := []byte(`{
		"start_time": "2026-01-15 09:00:00",
		"screw_duration": 1,
		"function_duration": 1,
		"label_duration": 1,
		"cycle_time": 42.5
	}`)
	if err := svc.Process(context.Background(), raw); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored := repo.recordsSnapshot()["2026-01-15 09:00:00"]
	if stored.CycleTime != 42.5 {
		t.Fatalf("expected device cycle_time to win, got %v", stored.CycleTime)
	}
}

func TestProcessMalformedPayloadLeavesStoreUntouched(t *testing.T) {
	repo := newStubCycleRepo()
	hub := ws.NewHub()
	svc := New(repo, hub, nil, time.Second)

	subscriber := newTestSubscriber()
	hub.Register(subscriber)

	if err := svc.Process(context.Background(), []byte(`{"status":"Finish"}`)); err == nil {
		t.Fatal("expected decode error for missing start_time")
	}
	if err := svc.Process(context.Background(), []byte(`not json`)); err == nil {
		t.Fatal("expected decode error for invalid JSON")
	}

	if len(repo.recordsSnapshot()) != 0 {
		t.Fatalf("expected no records persisted")
	}
	subscriber.expectSilent(t)
}

func TestProcessStoreErrorSkipsBroadcast(t *testing.T) {
	repo := newStubCycleRepo()
	repo.insertErr = errors.New("connection reset")
	hub := ws.NewHub()
	svc := New(repo, hub, nil, time.Second)

	subscriber := newTestSubscriber()
	hub.Register(subscriber)

	err := svc.Process(context.Background(), []byte(`{"start_time":"2026-01-15 09:30:00"}`))
	if err == nil {
		t.Fatal("expected store error to surface")
	}
	if !errors.Is(err, repo.insertErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	subscriber.expectSilent(t)
}

func TestProcessInsertConflictRetriedAsUpdate(t *testing.T) {
	repo := newStubCycleRepo()
	repo.conflictOnInsert = true
	hub := ws.NewHub()
	svc := New(repo, hub, nil, time.Second)

	subscriber := newTestSubscriber()
	hub.Register(subscriber)

	raw := []byte(`{"start_time":"2026-01-15 10:00:00","status":"Finish","screw_duration":4,"function_duration":4,"label_duration":2}`)
	if err := svc.Process(context.Background(), raw); err != nil {
		t.Fatalf("process: %v", err)
	}

	if repo.updateCount() != 1 {
		t.Fatalf("expected conflict resolved via update, got %d updates", repo.updateCount())
	}
	stored := repo.recordsSnapshot()["2026-01-15 10:00:00"]
	if stored.CycleTime != 10 {
		t.Fatalf("expected conflicting event applied, got cycle_time %v", stored.CycleTime)
	}

	update := subscriber.next(t)
	data := update["data"].(map[string]any)
	if data["is_new"] != false {
		t.Fatalf("expected lost insert race reported as continuation, got is_new %v", data["is_new"])
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	repo := newStubCycleRepo()
	svc := New(repo, ws.NewHub(), nil, time.Second)

	messages := make(chan mqtt.Message)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Run(ctx, messages)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ingest loop did not stop after cancel")
	}
}

type stubCycleRepo struct {
	mu               sync.Mutex
	nextID           int64
	records          map[string]*domain.CycleRecord
	insertErr        error
	conflictOnInsert bool
	inserts          int
	updates          int
}

func newStubCycleRepo() *stubCycleRepo {
	return &stubCycleRepo{nextID: 1, records: make(map[string]*domain.CycleRecord)}
}

func (r *stubCycleRepo) seed(record domain.CycleRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := record
	r.records[record.StartTime] = &copy
	if record.ID >= r.nextID {
		r.nextID = record.ID + 1
	}
}

func (r *stubCycleRepo) GetByStartTime(_ context.Context, startTime string) (*domain.CycleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[startTime]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *record
	return &copy, nil
}

func (r *stubCycleRepo) Insert(_ context.Context, record *domain.CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if r.conflictOnInsert {
		// Simulate another writer creating the row between the lookup
		// and this insert.
		r.conflictOnInsert = false
		other := *record
		other.ID = r.nextID
		r.nextID++
		r.records[record.StartTime] = &other
		return repository.ErrConflict
	}
	if _, ok := r.records[record.StartTime]; ok {
		return repository.ErrConflict
	}
	record.ID = r.nextID
	record.CreatedAt = time.Now()
	r.nextID++
	copy := *record
	r.records[record.StartTime] = &copy
	r.inserts++
	return nil
}

func (r *stubCycleRepo) Update(_ context.Context, record *domain.CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[record.StartTime]
	if !ok || existing.ID != record.ID {
		return repository.ErrNotFound
	}
	copy := *record
	copy.CreatedAt = existing.CreatedAt
	r.records[record.StartTime] = &copy
	r.updates++
	return nil
}

func (r *stubCycleRepo) ListRecent(_ context.Context, limit int) ([]domain.CycleRecord, error) {
	return r.listAll(limit)
}

func (r *stubCycleRepo) ListAll(context.Context) ([]domain.CycleRecord, error) {
	return r.listAll(0)
}

func (r *stubCycleRepo) ListCompletedRecent(_ context.Context, limit int) ([]domain.CycleRecord, error) {
	all, _ := r.listAll(0)
	out := make([]domain.CycleRecord, 0, len(all))
	for _, record := range all {
		if record.Status == domain.StatusFinished && record.CycleTime > 0 {
			out = append(out, record)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *stubCycleRepo) Aggregate(context.Context) (domain.StatsSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats domain.StatsSnapshot
	var sum float64
	for _, record := range r.records {
		stats.TotalParts++
		sum += record.CycleTime
		if record.Status == domain.StatusFinished {
			stats.CompletedParts++
		} else {
			stats.InProgress++
		}
	}
	if stats.TotalParts > 0 {
		stats.AvgCycle = sum / float64(stats.TotalParts)
	}
	return stats, nil
}

func (r *stubCycleRepo) AggregateDetail(ctx context.Context) (domain.StatsDetail, error) {
	stats, err := r.Aggregate(ctx)
	if err != nil {
		return domain.StatsDetail{}, err
	}
	return domain.StatsDetail{StatsSnapshot: stats}, nil
}

func (r *stubCycleRepo) listAll(limit int) ([]domain.CycleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CycleRecord, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, *record)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *stubCycleRepo) recordsSnapshot() map[string]domain.CycleRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.CycleRecord, len(r.records))
	for key, record := range r.records {
		out[key] = *record
	}
	return out
}

func (r *stubCycleRepo) insertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inserts
}

func (r *stubCycleRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

type testSubscriber struct {
	ch chan []byte
}

func newTestSubscriber() *testSubscriber {
	return &testSubscriber{ch: make(chan []byte, 8)}
}

func (s *testSubscriber) Send(payload []byte) error {
	select {
	case s.ch <- append([]byte(nil), payload...):
	default:
	}
	return nil
}

func (s *testSubscriber) Close() {}

func (s *testSubscriber) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case payload := <-s.ch:
		var msg map[string]any
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		return msg
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected broadcast frame")
		return nil
	}
}

func (s *testSubscriber) expectSilent(t *testing.T) {
	t.Helper()
	select {
	case payload := <-s.ch:
		t.Fatalf("unexpected broadcast: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}
