package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/arbitrage"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

// OpportunityService turns market state into persisted opportunities. It is
// the processor the market stream calls for every touched market and the sink
// of each refresh cycle.
type OpportunityService struct {
	engine *arbitrage.Engine
	store  domain.OpportunityStore
	logger *slog.Logger
}

// NewOpportunityService creates an OpportunityService with all required dependencies.
func NewOpportunityService(
	engine *arbitrage.Engine,
	store domain.OpportunityStore,
	logger *slog.Logger,
) *OpportunityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpportunityService{
		engine: engine,
		store:  store,
		logger: logger.With(slog.String("component", "opportunity_service")),
	}
}

// Thresholds returns the thresholds the engine was built with.
func (s *OpportunityService) Thresholds() arbitrage.Thresholds {
	return s.engine.Thresholds()
}

// ProcessMarket recomputes one market after a feed update: an opportunity is
// upserted, anything else removes the market from the snapshot. Store errors
// are logged and swallowed so the stream keeps consuming.
func (s *OpportunityService) ProcessMarket(ctx context.Context, m domain.Market) {
	if opp, ok := s.engine.Compute(m); ok {
		if err := s.store.UpsertOpportunity(ctx, opp); err != nil {
			s.logger.ErrorContext(ctx, "opportunity_service: upsert failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if err := s.store.RemoveOpportunity(ctx, m.ID); err != nil {
		s.logger.ErrorContext(ctx, "opportunity_service: remove failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Refresh replaces the snapshot with the opportunities found in markets.
func (s *OpportunityService) Refresh(ctx context.Context, markets []domain.Market) (int, error) {
	opps := s.engine.ComputeAll(markets)
	if err := s.store.SyncOpportunities(ctx, opps); err != nil {
		return len(opps), fmt.Errorf("opportunity_service: sync: %w", err)
	}
	s.logger.DebugContext(ctx, "opportunity_service: refreshed snapshot",
		slog.Int("markets", len(markets)),
		slog.Int("opportunities", len(opps)),
	)
	return len(opps), nil
}

// List reads the snapshot and keeps entries passing f. Liquidity is compared
// with absent treated as 0; category matches case-insensitively.
func (s *OpportunityService) List(ctx context.Context, f domain.OpportunityFilter) ([]domain.Opportunity, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("opportunity_service: snapshot: %w", err)
	}
	out := make([]domain.Opportunity, 0, len(snap))
	for _, o := range snap {
		if o.Edge < f.MinEdge {
			continue
		}
		liq := 0.0
		if o.Liquidity != nil {
			liq = *o.Liquidity
		}
		if liq < f.MinLiquidity {
			continue
		}
		if f.Category != "" && !strings.EqualFold(o.CategoryOrEmpty(), f.Category) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// History returns up to limit points of a market's edge series.
func (s *OpportunityService) History(ctx context.Context, marketID string, limit int, order domain.HistoryOrder) ([]domain.HistoryPoint, error) {
	if marketID == "" {
		return nil, fmt.Errorf("%w: empty market id", domain.ErrInvalidArgument)
	}
	pts, err := s.store.History(ctx, marketID, limit, order)
	if err != nil {
		return nil, fmt.Errorf("opportunity_service: history: %w", err)
	}
	return pts, nil
}
