package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

// ReadyFrame is the first message on every live stream.
const ReadyFrame = `{"type":"ready","status":"listening"}`

const sseKeepAlive = 15 * time.Second

// StreamHandler relays the updates channel as Server-Sent Events.
type StreamHandler struct {
	bus     domain.SignalBus
	channel string
	logger  *slog.Logger
}

// NewStreamHandler creates a StreamHandler for channel.
func NewStreamHandler(bus domain.SignalBus, channel string, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{bus: bus, channel: channel, logger: logger}
}

// Stream writes a ready frame, then one data frame per published update
// until the client goes away.
// GET /v1/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	msgs, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: stream subscribe failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "update stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "data: %s\n\n", ReadyFrame); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
