package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/goblinos/goblind/pkg/cost"
	"github.com/goblinos/goblind/pkg/stream"
	"github.com/goblinos/goblind/pkg/supervisor"
)

// RuntimeStatus reports the worker state.
type RuntimeStatus interface {
	Status() supervisor.Status
}

// StreamStats reports task stream counters.
type StreamStats interface {
	Stats() stream.Stats
}

// CostSummary reports accumulated spend.
type CostSummary interface {
	Summary() cost.Summary
}

// BusStats reports event delivery counters.
type BusStats interface {
	Subscribers() int
	Dropped() int64
}

// Snapshot is the full metrics document served at /metrics.
type Snapshot struct {
	Uptime  time.Duration     `json:"uptime"`
	Runtime supervisor.Status `json:"runtime"`
	Streams stream.Stats      `json:"streams"`
	Cost    cost.Summary      `json:"cost"`
	Events  EventStats        `json:"events"`
}

// EventStats counts websocket subscribers and dropped deliveries.
type EventStats struct {
	Subscribers int   `json:"subscribers"`
	Dropped     int64 `json:"dropped"`
}

// MetricsHandler provides HTTP endpoints for metrics.
type MetricsHandler struct {
	runtime RuntimeStatus
	streams StreamStats
	cost    CostSummary
	bus     BusStats
	started time.Time
}

// NewMetricsHandler creates a new metrics HTTP handler. Nil sources report zero values.
func NewMetricsHandler(runtime RuntimeStatus, streams StreamStats, costs CostSummary, bus BusStats) *MetricsHandler {
	return &MetricsHandler{
		runtime: runtime,
		streams: streams,
		cost:    costs,
		bus:     bus,
		started: time.Now(),
	}
}

// RegisterRoutes registers metrics endpoints with HTTP mux.
func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", h.handleMetrics)
	mux.HandleFunc("/metrics/", h.handleMetrics)
	mux.HandleFunc("/metrics/cost", h.handleCost)
	mux.HandleFunc("/metrics/health", h.handleHealth)

	// Prometheus-style metrics (text format)
	mux.HandleFunc("/metrics/prometheus", h.handlePrometheus)
}

// Snapshot collects the current values of every source.
func (h *MetricsHandler) Snapshot() Snapshot {
	s := Snapshot{
		Uptime: time.Since(h.started),
		Cost: cost.Summary{
			CostByProvider: map[string]float64{},
			CostByModel:    map[string]float64{},
		},
	}
	if h.runtime != nil {
		s.Runtime = h.runtime.Status()
	}
	if h.streams != nil {
		s.Streams = h.streams.Stats()
	}
	if h.cost != nil {
		s.Cost = h.cost.Summary()
	}
	if h.bus != nil {
		s.Events = EventStats{Subscribers: h.bus.Subscribers(), Dropped: h.bus.Dropped()}
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleMetrics returns the full metrics snapshot as JSON.
func (h *MetricsHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Snapshot())
}

// handleCost returns the cost summary, optionally narrowed to one provider.
func (h *MetricsHandler) handleCost(w http.ResponseWriter, r *http.Request) {
	summary := h.Snapshot().Cost

	if provider := r.URL.Query().Get("provider"); provider != "" {
		writeJSON(w, struct {
			Provider string  `json:"provider"`
			Cost     float64 `json:"cost"`
		}{provider, summary.CostByProvider[provider]})
		return
	}
	writeJSON(w, summary)
}

// handleHealth returns a simple health check with basic metrics.
func (h *MetricsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.Snapshot()

	status := "healthy"
	if !snap.Runtime.Running {
		status = "idle"
	}
	writeJSON(w, struct {
		Status        string        `json:"status"`
		Uptime        time.Duration `json:"uptime"`
		Runtime       bool          `json:"runtime"`
		ActiveStreams int64         `json:"activeStreams"`
	}{
		Status:        status,
		Uptime:        snap.Uptime,
		Runtime:       snap.Runtime.Running,
		ActiveStreams: snap.Streams.Active,
	})
}

// handlePrometheus returns metrics in Prometheus text format.
func (h *MetricsHandler) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	snap := h.Snapshot()

	fmt.Fprintf(w, "# HELP goblind_uptime_seconds Process uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE goblind_uptime_seconds gauge\n")
	fmt.Fprintf(w, "goblind_uptime_seconds %.2f\n", snap.Uptime.Seconds())

	fmt.Fprintf(w, "\n# HELP goblind_runtime_up Worker process running (1/0)\n")
	fmt.Fprintf(w, "# TYPE goblind_runtime_up gauge\n")
	fmt.Fprintf(w, "goblind_runtime_up %d\n", boolMetric(snap.Runtime.Running))
	fmt.Fprintf(w, "goblind_runtime_ready %d\n", boolMetric(snap.Runtime.Ready))

	fmt.Fprintf(w, "\n# HELP goblind_streams Task streams by state\n")
	fmt.Fprintf(w, "# TYPE goblind_streams gauge\n")
	fmt.Fprintf(w, "goblind_streams{state=\"active\"} %d\n", snap.Streams.Active)
	fmt.Fprintf(w, "goblind_streams{state=\"completed\"} %d\n", snap.Streams.Completed)
	fmt.Fprintf(w, "goblind_streams{state=\"cancelled\"} %d\n", snap.Streams.Cancelled)

	fmt.Fprintf(w, "\n# HELP goblind_cost_total Estimated spend in USD\n")
	fmt.Fprintf(w, "# TYPE goblind_cost_total counter\n")
	fmt.Fprintf(w, "goblind_cost_total %.6f\n", snap.Cost.TotalCost)
	for _, provider := range sortedKeys(snap.Cost.CostByProvider) {
		fmt.Fprintf(w, "goblind_cost_total{provider=\"%s\"} %.6f\n",
			sanitizeMetricName(provider), snap.Cost.CostByProvider[provider])
	}

	fmt.Fprintf(w, "\n# HELP goblind_tokens_total Estimated tokens streamed\n")
	fmt.Fprintf(w, "# TYPE goblind_tokens_total counter\n")
	fmt.Fprintf(w, "goblind_tokens_total %d\n", snap.Cost.Tokens)

	fmt.Fprintf(w, "\n# HELP goblind_event_subscribers Live event subscribers\n")
	fmt.Fprintf(w, "# TYPE goblind_event_subscribers gauge\n")
	fmt.Fprintf(w, "goblind_event_subscribers %d\n", snap.Events.Subscribers)
	fmt.Fprintf(w, "goblind_event_dropped_total %d\n", snap.Events.Dropped)
}

func boolMetric(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeMetricName replaces characters outside [A-Za-z0-9_.-] with underscores.
func sanitizeMetricName(name string) string {
	result := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			result = append(result, r)
		} else {
			result = append(result, '_')
		}
	}
	return string(result)
}
