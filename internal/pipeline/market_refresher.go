package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/platform/polymarket"
)

// MarketLister retrieves raw market listings from the REST source.
type MarketLister interface {
	FetchMarkets(ctx context.Context, limit int) ([]json.RawMessage, error)
}

// TokenResolver maps condition ids to outcome token ids.
type TokenResolver interface {
	FetchTokens(ctx context.Context, conditionIDs []string) (polymarket.TokenMap, error)
}

// MarketSyncer holds the full set of live markets.
type MarketSyncer interface {
	Sync(markets []domain.Market) domain.MarketSyncResult
}

// AssetSubscriber takes newly indexed asset ids for the feed.
type AssetSubscriber interface {
	Enqueue(ctx context.Context, ids ...string) error
}

// SnapshotRefresher rebuilds the opportunity snapshot from a market listing.
type SnapshotRefresher interface {
	Refresh(ctx context.Context, markets []domain.Market) (int, error)
}

// RefresherConfig controls a MarketRefresher.
type RefresherConfig struct {
	Limit    int
	Interval time.Duration
	// LockKey names the distributed lock held for each cycle when a
	// LockManager is set.
	LockKey string
}

const (
	defaultRefreshInterval = 30 * time.Second
	defaultRefreshLimit    = 200
	defaultRefreshLockKey  = "refresh"
)

// MarketRefresher polls the market listing, keeps the cache and feed
// subscriptions current and rebuilds the opportunity snapshot.
type MarketRefresher struct {
	lister    MarketLister
	resolver  TokenResolver
	cache     MarketSyncer
	subs      AssetSubscriber
	snapshots SnapshotRefresher
	locks     domain.LockManager
	cfg       RefresherConfig
	logger    *slog.Logger
}

// NewMarketRefresher creates a MarketRefresher. resolver, cache, subs and
// locks may be nil; the matching step is then skipped.
func NewMarketRefresher(
	lister MarketLister,
	resolver TokenResolver,
	cache MarketSyncer,
	subs AssetSubscriber,
	snapshots SnapshotRefresher,
	locks domain.LockManager,
	cfg RefresherConfig,
	logger *slog.Logger,
) *MarketRefresher {
	if cfg.Interval < time.Second {
		if cfg.Interval <= 0 {
			cfg.Interval = defaultRefreshInterval
		} else {
			cfg.Interval = time.Second
		}
	}
	if cfg.Limit < 1 {
		cfg.Limit = defaultRefreshLimit
	}
	if cfg.LockKey == "" {
		cfg.LockKey = defaultRefreshLockKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketRefresher{
		lister:    lister,
		resolver:  resolver,
		cache:     cache,
		subs:      subs,
		snapshots: snapshots,
		locks:     locks,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "market_refresher")),
	}
}

// Interval returns the effective refresh cadence.
func (r *MarketRefresher) Interval() time.Duration { return r.cfg.Interval }

// Run executes a single refresh cycle. A failed listing fetch skips the cycle
// and is returned; enrichment and cache problems are logged and the cycle
// continues. domain.ErrLockHeld is returned when another replica holds the
// refresh lock.
func (r *MarketRefresher) Run(ctx context.Context) error {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, r.cfg.LockKey, 2*r.cfg.Interval)
		if err != nil {
			return fmt.Errorf("refresh lock: %w", err)
		}
		defer unlock()
	}

	raws, err := r.lister.FetchMarkets(ctx, r.cfg.Limit)
	if err != nil {
		return fmt.Errorf("fetching markets: %w", err)
	}
	r.logger.Info("fetched markets",
		slog.Int("count", len(raws)),
		slog.Int("limit", r.cfg.Limit),
	)

	markets := polymarket.NormalizeAll(raws)
	r.logger.Info("normalized markets", slog.Int("count", len(markets)))

	r.enrich(ctx, markets)

	if r.cache != nil {
		res := r.cache.Sync(markets)
		r.logger.Debug("cache synced",
			slog.Int("new_assets", len(res.NewAssetIDs)),
			slog.Int("removed_markets", len(res.RemovedMarketIDs)),
		)
		if r.subs != nil && len(res.NewAssetIDs) > 0 {
			if err := r.subs.Enqueue(ctx, res.NewAssetIDs...); err != nil {
				return fmt.Errorf("enqueue subscriptions: %w", err)
			}
		}
	}

	n, err := r.snapshots.Refresh(ctx, markets)
	if err != nil {
		return fmt.Errorf("refreshing snapshot: %w", err)
	}
	r.logger.Info("refresh complete",
		slog.Int("markets", len(markets)),
		slog.Int("opportunities", n),
	)
	return nil
}

func (r *MarketRefresher) enrich(ctx context.Context, markets []domain.Market) {
	if r.resolver == nil {
		return
	}
	ids := polymarket.ConditionIDs(markets)
	if len(ids) == 0 {
		return
	}
	tokens, err := r.resolver.FetchTokens(ctx, ids)
	if err != nil {
		r.logger.Warn("token enrichment failed",
			slog.Int("condition_ids", len(ids)),
			slog.String("error", err.Error()),
		)
	}
	if n := polymarket.Enrich(markets, tokens); n > 0 {
		r.logger.Debug("enriched outcomes with token ids", slog.Int("count", n))
	}
}

// RunLoop runs a cycle immediately and then on every interval tick until the
// context is cancelled.
func (r *MarketRefresher) RunLoop(ctx context.Context) error {
	r.runLogged(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("market refresher loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *MarketRefresher) runLogged(ctx context.Context) {
	err := r.Run(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, domain.ErrLockHeld):
		r.logger.Debug("refresh skipped, lock held elsewhere")
	default:
		r.logger.Error("market refresh failed", slog.String("error", err.Error()))
	}
}
