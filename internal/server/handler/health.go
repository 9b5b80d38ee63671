package handler

import (
	"net/http"
	"time"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/feed"
)

// MarketCounter reports how many markets are cached.
type MarketCounter interface {
	Len() int
}

// StreamStatus reports feed connection state.
type StreamStatus interface {
	Stats() feed.Stats
}

// HealthHandler serves liveness and status endpoints.
type HealthHandler struct {
	markets   MarketCounter
	stream    StreamStatus
	mode      string
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler. markets and stream may be nil
// when this process does not run ingestion.
func NewHealthHandler(mode string, markets MarketCounter, stream StreamStatus) *HealthHandler {
	return &HealthHandler{
		markets:   markets,
		stream:    stream,
		mode:      mode,
		startedAt: time.Now().UTC(),
	}
}

// Healthz answers liveness probes.
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthCheck reports uptime plus cache and stream state when available.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.markets != nil {
		body["markets"] = h.markets.Len()
	}
	if h.stream != nil {
		body["stream"] = h.stream.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}
