package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK          = "ok"
	resultDecodeError = "decode_error"
	resultStoreError  = "store_error"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cyclemon",
		Subsystem: "ingest",
		Name:      "events_total",
		Help:      "Inbound telemetry events by processing result",
	}, []string{"result"})

	cyclesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyclemon",
		Subsystem: "ingest",
		Name:      "cycles_started_total",
		Help:      "New cycle records created",
	})

	reconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cyclemon",
		Subsystem: "ingest",
		Name:      "reconcile_duration_seconds",
		Help:      "Time to persist, aggregate and broadcast one event",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
)
