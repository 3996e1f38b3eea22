package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/splax/cyclemon/internal/domain"
)

// DecodeEvent parses a raw broker payload into a TelemetryEvent.
// Duration fields are permissive: a missing or non-numeric value maps
// to zero instead of failing the decode. The payload only fails when
// it is not a JSON object or carries no start_time.
func DecodeEvent(raw []byte) (domain.TelemetryEvent, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.TelemetryEvent{}, fmt.Errorf("decode telemetry payload: %w", err)
	}

	event := domain.TelemetryEvent{
		StartTime: asString(fields["start_time"]),
		EndTime:   asString(fields["end_time"]),
		Status:    asString(fields["status"]),
	}
	if event.StartTime == "" {
		return domain.TelemetryEvent{}, fmt.Errorf("decode telemetry payload: start_time required")
	}

	event.ScrewDuration = asDuration(fields["screw_duration"])
	event.FunctionDuration = asDuration(fields["function_duration"])
	event.LabelDuration = asDuration(fields["label_duration"])

	// Devices that report an authoritative total send cycle_time; zero
	// means "not supplied" and falls back to the summed phases.
	if v, ok := asFloat(fields["cycle_time"]); ok && v > 0 {
		event.CycleTime = &v
	}
	if n, ok := asFloat(fields["output_number"]); ok && n > 0 {
		value := int(n)
		event.OutputNumber = &value
	}
	return event, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// asFloat coerces JSON numbers and numeric strings.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func asDuration(v any) float64 {
	f, ok := asFloat(v)
	if !ok || f < 0 {
		return 0
	}
	return f
}
