package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

const (
	defaultUpdatesLimit = 100
	maxUpdatesLimit     = 1000
)

// UpdatesHandler serves the archived update log.
type UpdatesHandler struct {
	archive domain.UpdateArchive
	logger  *slog.Logger
}

// NewUpdatesHandler creates an UpdatesHandler.
func NewUpdatesHandler(archive domain.UpdateArchive, logger *slog.Logger) *UpdatesHandler {
	return &UpdatesHandler{archive: archive, logger: logger}
}

type archivedUpdateResponse struct {
	ID         string            `json:"id"`
	Type       domain.UpdateType `json:"type"`
	MarketID   string            `json:"marketId"`
	Edge       *float64          `json:"edge"`
	SumPrices  *float64          `json:"sumPrices"`
	Liquidity  *float64          `json:"liquidity"`
	ReceivedAt time.Time         `json:"receivedAt"`
}

// ListMarketUpdates returns a market's archived updates, newest first.
// GET /v1/markets/{market_id}/updates?limit=100
func (h *UpdatesHandler) ListMarketUpdates(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("market_id")
	limit, err := queryInt(r, "limit", defaultUpdatesLimit, 1, maxUpdatesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updates, err := h.archive.ListByMarket(r.Context(), marketID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list updates failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read updates")
		return
	}

	out := make([]archivedUpdateResponse, 0, len(updates))
	for _, u := range updates {
		out = append(out, archivedUpdateResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}
