// Package memory holds the in-process market cache that backs the feed.
package memory

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

type assetRef struct {
	marketID string
	position int
}

// MarketCache is the in-process source of truth for current market prices.
// It owns the markets and the asset-id reverse index behind a single mutex;
// every accessor returns deep copies.
type MarketCache struct {
	mu         sync.Mutex
	markets    map[string]domain.Market
	assetIndex map[string]assetRef
	logger     *slog.Logger
}

// NewMarketCache creates an empty cache.
func NewMarketCache(logger *slog.Logger) *MarketCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketCache{
		markets:    make(map[string]domain.Market),
		assetIndex: make(map[string]assetRef),
		logger:     logger.With(slog.String("component", "market_cache")),
	}
}

// Sync replaces the cached market set with markets. Markets absent from the
// input are evicted together with their index entries.
func (c *MarketCache) Sync(markets []domain.Market) domain.MarketSyncResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(markets))
	newAssets := make(map[string]struct{})

	for _, in := range markets {
		seen[in.ID] = struct{}{}

		var previous []string
		if existing, ok := c.markets[in.ID]; ok {
			previous = tokenIDs(existing)
		}

		m := in.Clone()
		c.markets[m.ID] = m

		current := make(map[string]struct{}, len(m.Outcomes))
		for i, o := range m.Outcomes {
			if o.TokenID == "" {
				continue
			}
			current[o.TokenID] = struct{}{}
			if _, ok := c.assetIndex[o.TokenID]; !ok {
				newAssets[o.TokenID] = struct{}{}
			}
			c.assetIndex[o.TokenID] = assetRef{marketID: m.ID, position: i}
		}

		for _, id := range previous {
			if _, ok := current[id]; ok {
				continue
			}
			c.dropAsset(id, m.ID)
		}
	}

	var removed []string
	for id, m := range c.markets {
		if _, ok := seen[id]; ok {
			continue
		}
		for _, tok := range tokenIDs(m) {
			c.dropAsset(tok, id)
		}
		delete(c.markets, id)
		removed = append(removed, id)
	}

	res := domain.MarketSyncResult{
		NewAssetIDs:      sortedKeys(newAssets),
		RemovedMarketIDs: removed,
	}
	sort.Strings(res.RemovedMarketIDs)

	c.logger.Debug("market cache synced",
		slog.Int("markets", len(markets)),
		slog.Int("new_assets", len(res.NewAssetIDs)),
		slog.Int("removed_markets", len(res.RemovedMarketIDs)),
	)
	return res
}

// dropAsset removes an index entry only while it still points at owner, so a
// token that moved to another market in the same sync is kept.
func (c *MarketCache) dropAsset(assetID, owner string) {
	if ref, ok := c.assetIndex[assetID]; ok && ref.marketID == owner {
		delete(c.assetIndex, assetID)
	}
}

// AssetIDs returns every indexed asset id, sorted.
func (c *MarketCache) AssetIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.assetIndex))
	for id := range c.assetIndex {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Market returns a copy of the market with the given id.
func (c *MarketCache) Market(id string) (domain.Market, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, false
	}
	return m.Clone(), true
}

// Markets returns copies of every cached market ordered by id.
func (c *MarketCache) Markets() []domain.Market {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.Market, 0, len(c.markets))
	for _, m := range c.markets {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of cached markets.
func (c *MarketCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.markets)
}

// ApplyBookSnapshot applies the top of an order-book snapshot to the outcome
// owning assetID. Levels are assumed best-first. A zero or missing top level
// leaves that side untouched. Returns false when assetID is not indexed.
func (c *MarketCache) ApplyBookSnapshot(assetID string, bids, asks []domain.BookLevel) (domain.Market, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, o, ok := c.resolve(assetID)
	if !ok {
		return domain.Market{}, false
	}

	if len(bids) > 0 && bids[0].Price > 0 {
		o.BestBid = domain.Ptr(bids[0].Price)
		o.BestBidSize = domain.Float(bids[0].Size)
	}
	if len(asks) > 0 && asks[0].Price > 0 {
		o.BestAsk = domain.Ptr(asks[0].Price)
		o.BestAskSize = domain.Float(asks[0].Size)
		o.Price = asks[0].Price
	}
	return m.Clone(), true
}

// ApplyPriceChanges applies best-bid/best-ask deltas. A positive bid or ask
// replaces that side; the size is taken only from a change whose side matches
// (BUY for bids, SELL for asks). A zero ask means the ask side emptied: the ask
// and its size are cleared while Price keeps its last value. A zero bid carries
// no information and is ignored. Changes for unknown assets are skipped.
//
// One copy is returned per touched market, in first-touched order.
func (c *MarketCache) ApplyPriceChanges(changes []domain.PriceChange) []domain.Market {
	c.mu.Lock()
	defer c.mu.Unlock()

	var order []string
	touched := make(map[string]struct{})

	for _, ch := range changes {
		m, o, ok := c.resolve(ch.AssetID)
		if !ok {
			continue
		}

		if ch.BestBid != nil && *ch.BestBid > 0 {
			o.BestBid = domain.Ptr(*ch.BestBid)
			if ch.Side == domain.SideBuy {
				o.BestBidSize = domain.Float(ch.Size)
			}
		}

		if ch.BestAsk != nil {
			if *ch.BestAsk > 0 {
				o.BestAsk = domain.Ptr(*ch.BestAsk)
				if ch.Side == domain.SideSell {
					o.BestAskSize = domain.Float(ch.Size)
				}
				o.Price = *ch.BestAsk
			} else {
				o.BestAsk = nil
				o.BestAskSize = nil
			}
		}

		if _, ok := touched[m.ID]; !ok {
			touched[m.ID] = struct{}{}
			order = append(order, m.ID)
		}
	}

	out := make([]domain.Market, 0, len(order))
	for _, id := range order {
		out = append(out, c.markets[id].Clone())
	}
	return out
}

// resolve returns the stored market and a pointer into its outcome slice.
// Callers must hold c.mu.
func (c *MarketCache) resolve(assetID string) (domain.Market, *domain.Outcome, bool) {
	if assetID == "" {
		return domain.Market{}, nil, false
	}
	ref, ok := c.assetIndex[assetID]
	if !ok {
		return domain.Market{}, nil, false
	}
	m, ok := c.markets[ref.marketID]
	if !ok || ref.position >= len(m.Outcomes) {
		c.logger.Warn("dangling asset index entry",
			slog.String("asset_id", assetID),
			slog.String("market_id", ref.marketID),
		)
		return domain.Market{}, nil, false
	}
	return m, &m.Outcomes[ref.position], true
}

func tokenIDs(m domain.Market) []string {
	ids := make([]string, 0, len(m.Outcomes))
	for _, o := range m.Outcomes {
		if o.TokenID != "" {
			ids = append(ids, o.TokenID)
		}
	}
	return ids
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
