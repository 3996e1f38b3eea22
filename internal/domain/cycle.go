package domain

import "time"

// StatusFinished is the status label a device reports once a cycle has
// completed all phases. Any other label counts as in-progress.
const StatusFinished = "Finish"

// TelemetryEvent is one decoded inbound message from the line.
type TelemetryEvent struct {
	StartTime        string
	EndTime          string
	Status           string
	OutputNumber     *int
	ScrewDuration    float64
	FunctionDuration float64
	LabelDuration    float64
	CycleTime        *float64
}

// TotalDuration sums the per-phase durations.
func (e TelemetryEvent) TotalDuration() float64 {
	return e.ScrewDuration + e.FunctionDuration + e.LabelDuration
}

// CycleRecord is the persisted state of one production cycle, keyed by
// its start_time. The identifier is assigned by the store on first
// insert and stable across continuation events.
type CycleRecord struct {
	ID              int64     `json:"id"`
	StartTime       string    `json:"start_time"`
	ScrewSeconds    float64   `json:"screw"`
	FunctionSeconds float64   `json:"function"`
	LabelSeconds    float64   `json:"label"`
	EndTime         string    `json:"end_time"`
	CycleTime       float64   `json:"cycle_time"`
	Status          string    `json:"status"`
	OutputNo        *int      `json:"output_no"`
	CreatedAt       time.Time `json:"created_at"`
}

// RecordUpdate is the payload broadcast to observers after each
// reconciliation. IsNew tells consumers whether to prepend or replace
// in their display list.
type RecordUpdate struct {
	ID              int64   `json:"id"`
	StartTime       string  `json:"start_time"`
	ScrewSeconds    float64 `json:"screw"`
	FunctionSeconds float64 `json:"function"`
	LabelSeconds    float64 `json:"label"`
	EndTime         string  `json:"end_time"`
	CycleTime       float64 `json:"cycle_time"`
	Status          string  `json:"status"`
	OutputNo        *int    `json:"output_no"`
	IsNew           bool    `json:"is_new"`
}

// StatsSnapshot summarises the whole record set. It is recomputed from
// the store after every write rather than maintained incrementally.
type StatsSnapshot struct {
	TotalParts     int64   `json:"total_parts"`
	CompletedParts int64   `json:"completed_parts"`
	InProgress     int64   `json:"in_progress"`
	AvgCycle       float64 `json:"avg_cycle"`
}

// StatsDetail extends the snapshot with per-phase averages for the
// polling read surface.
type StatsDetail struct {
	StatsSnapshot
	AvgScrew    float64 `json:"avg_screw"`
	AvgFunction float64 `json:"avg_function"`
	AvgLabel    float64 `json:"avg_label"`
}

// ChartPoint feeds the recent-history series; only completed cycles
// with a positive cycle time qualify.
type ChartPoint struct {
	StartTime       string  `json:"start_time"`
	ScrewSeconds    float64 `json:"screw"`
	FunctionSeconds float64 `json:"function"`
	LabelSeconds    float64 `json:"label"`
	CycleTime       float64 `json:"cycle_time"`
	OutputNo        *int    `json:"output_no"`
}

// Snapshot is the point-in-time bundle sent to a newly connected
// observer before any deltas apply.
type Snapshot struct {
	RecentData []CycleRecord `json:"recentData"`
	Stats      StatsSnapshot `json:"stats"`
	ChartData  []ChartPoint  `json:"chartData"`
}
