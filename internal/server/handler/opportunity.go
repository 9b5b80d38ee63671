package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/arbitrage"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 5000
)

// OpportunityReader is the read side of the opportunity service.
type OpportunityReader interface {
	List(ctx context.Context, f domain.OpportunityFilter) ([]domain.Opportunity, error)
	History(ctx context.Context, marketID string, limit int, order domain.HistoryOrder) ([]domain.HistoryPoint, error)
}

// OpportunityHandler serves the snapshot and per-market edge history.
type OpportunityHandler struct {
	opps     OpportunityReader
	defaults arbitrage.Thresholds
	logger   *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler. defaults fill in
// min_edge and min_liquidity when a request omits them.
func NewOpportunityHandler(opps OpportunityReader, defaults arbitrage.Thresholds, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{opps: opps, defaults: defaults, logger: logger}
}

// ListOpportunities returns snapshot entries passing the filters.
// GET /v1/opportunities?min_edge=&min_liquidity=&category=
func (h *OpportunityHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	minEdge, err := queryFloat(r, "min_edge", h.defaults.MinEdge)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minLiq, err := queryFloat(r, "min_liquidity", h.defaults.MinLiquidity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opps, err := h.opps.List(r.Context(), domain.OpportunityFilter{
		MinEdge:      minEdge,
		MinLiquidity: minLiq,
		Category:     strings.TrimSpace(r.URL.Query().Get("category")),
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read opportunities")
		return
	}
	writeJSON(w, http.StatusOK, opps)
}

// GetHistory returns a market's edge series.
// GET /v1/history/{market_id}?limit=500&order=asc
func (h *OpportunityHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("market_id")

	limit, err := queryInt(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order := domain.OrderAsc
	if v := strings.TrimSpace(r.URL.Query().Get("order")); v != "" {
		switch domain.HistoryOrder(strings.ToLower(v)) {
		case domain.OrderAsc:
		case domain.OrderDesc:
			order = domain.OrderDesc
		default:
			writeError(w, http.StatusBadRequest, "order must be 'asc' or 'desc'")
			return
		}
	}

	points, err := h.opps.History(r.Context(), marketID, limit, order)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: history failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, points)
}
