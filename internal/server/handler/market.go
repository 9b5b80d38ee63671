package handler

import (
	"log/slog"
	"net/http"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

// MarketSource exposes the live market cache.
type MarketSource interface {
	Market(id string) (domain.Market, bool)
}

// MarketHandler serves cached market state.
type MarketHandler struct {
	markets MarketSource
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler over the given cache.
func NewMarketHandler(markets MarketSource, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// GetMarket returns one cached market with its live top-of-book.
// GET /v1/markets/{market_id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := h.markets.Market(r.PathValue("market_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
