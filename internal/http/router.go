package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/cyclemon/internal/service/snapshot"
	"github.com/splax/cyclemon/internal/ws"
)

// Router wires the read surface and observer endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	snapshots snapshot.Service
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	observerCount      prometheus.GaugeFunc
}

const (
	rateWindowDefault  = time.Minute
	rateLimitRead      = 120
	rateLimitFullDump  = 30
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeatEvery  = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, snapshots snapshot.Service, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		snapshots: snapshots,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/api/health", r.instrument("/api/health", r.withRateLimit("/api/health", rateLimitRead, rateWindowDefault, r.handleHealth)))
	r.mux.HandleFunc("/api/stats", r.instrument("/api/stats", r.withRateLimit("/api/stats", rateLimitRead, rateWindowDefault, r.handleStats)))
	r.mux.HandleFunc("/api/recent", r.instrument("/api/recent", r.withRateLimit("/api/recent", rateLimitRead, rateWindowDefault, r.handleRecent)))
	r.mux.HandleFunc("/api/all", r.instrument("/api/all", r.withRateLimit("/api/all", rateLimitFullDump, rateWindowDefault, r.handleAll)))
	// Streaming endpoints hijack or hold the connection, so they stay
	// outside the status-recording wrapper.
	r.mux.HandleFunc("/ws", r.withRateLimit("/ws", rateLimitStream, rateWindowDefault, r.handleWS))
	r.mux.HandleFunc("/events", r.withRateLimit("/events", rateLimitStream, rateWindowDefault, r.handleSSE))
	r.mux.Handle("/metrics", promhttp.Handler())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, req)
		r.recordRequestMetrics(req.Method, route, recorder.status, time.Since(started))
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status := "OK"
	code := http.StatusOK
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if err := r.dbHealth(ctx); err != nil {
		r.logger.Warn("health check database ping failed", "error", err)
		status = "DEGRADED"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"clients":   r.hub.Count(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	stats, err := r.snapshots.Stats(req.Context())
	if err != nil {
		r.logger.Error("stats query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleRecent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	records, err := r.snapshots.Recent(req.Context(), limit)
	if err != nil {
		r.logger.Error("recent query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (r *Router) handleAll(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	records, err := r.snapshots.All(req.Context())
	if err != nil {
		r.logger.Error("full history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleWS upgrades an observer connection, joins the fan-out set,
// then delivers the initial snapshot. Registration happens before the
// snapshot query so an event reconciled during connect still reaches
// this observer as a delta; the snapshot built afterwards already
// contains it. The read loop only serves request-all-data messages,
// answered to this observer alone.
func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	id := r.hub.Register(client)
	drop := func() {
		r.hub.Unregister(id)
		client.Close()
	}

	snap, err := r.snapshots.Initial(req.Context())
	if err != nil {
		r.logger.Error("snapshot build failed", "error", err)
		drop()
		return
	}
	payload, err := ws.Envelope(ws.EventInitialData, snap)
	if err != nil {
		r.logger.Error("failed to marshal snapshot", "error", err)
		drop()
		return
	}
	if err := client.Send(payload); err != nil {
		drop()
		return
	}
	r.logger.Info("observer connected", "clients", r.hub.Count())
	go r.observerReadLoop(conn, client, id)
}

func (r *Router) observerReadLoop(conn *websocket.Conn, client *ws.Client, id string) {
	defer func() {
		r.hub.Unregister(id)
		client.Close()
		r.logger.Info("observer disconnected", "clients", r.hub.Count())
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event != ws.EventRequestAllData {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout*5)
		records, err := r.snapshots.All(ctx)
		cancel()
		if err != nil {
			r.logger.Warn("all-data request failed", "error", err)
			continue
		}
		if payload, err := ws.Envelope(ws.EventAllData, records); err == nil {
			r.hub.SendTo(id, payload)
		}
	}
}

// handleSSE serves observers that cannot speak websocket. The stream
// is one-way; such consumers poll /api/all for the full history. Like
// the websocket path, the stream joins the fan-out set before the
// snapshot query so no connect-window event is missed.
func (r *Router) handleSSE(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := ws.NewSSEClient(w, flusher, r.logger)
	id := r.hub.Register(client)
	defer func() {
		r.hub.Unregister(id)
		client.Close()
	}()

	snap, err := r.snapshots.Initial(req.Context())
	if err != nil {
		r.logger.Error("snapshot build failed", "error", err)
		return
	}
	payload, err := ws.Envelope(ws.EventInitialData, snap)
	if err != nil {
		r.logger.Error("failed to marshal snapshot", "error", err)
		return
	}
	if err := client.Send(payload); err != nil {
		return
	}

	ticker := time.NewTicker(sseHeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
