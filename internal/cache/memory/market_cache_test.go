package memory

import (
	"reflect"
	"sort"
	"testing"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

func binary(id, yes, no string) domain.Market {
	return domain.Market{
		ID:       id,
		Question: "Will " + id + " happen?",
		Outcomes: []domain.Outcome{
			{Name: "Yes", Price: 0.5, TokenID: yes},
			{Name: "No", Price: 0.5, TokenID: no},
		},
	}
}

// indexMatchesMarkets checks the reverse index equals the union of token ids
// of cached markets and that each entry points at the right outcome.
func indexMatchesMarkets(t *testing.T, c *MarketCache) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	want := make(map[string]assetRef)
	for id, m := range c.markets {
		for i, o := range m.Outcomes {
			if o.TokenID != "" {
				want[o.TokenID] = assetRef{marketID: id, position: i}
			}
		}
	}
	if !reflect.DeepEqual(want, c.assetIndex) {
		t.Fatalf("asset index = %v, want %v", c.assetIndex, want)
	}
}

func TestMarketCache_SyncIndexConsistency(t *testing.T) {
	c := NewMarketCache(nil)

	steps := []struct {
		name        string
		markets     []domain.Market
		wantNew     []string
		wantRemoved []string
	}{
		{
			name:    "initial population",
			markets: []domain.Market{binary("m1", "a1", "a2"), binary("m2", "b1", "b2")},
			wantNew: []string{"a1", "a2", "b1", "b2"},
		},
		{
			name:    "resync is a no-op",
			markets: []domain.Market{binary("m1", "a1", "a2"), binary("m2", "b1", "b2")},
		},
		{
			name:        "token rotated and market dropped",
			markets:     []domain.Market{binary("m1", "a1", "a3")},
			wantNew:     []string{"a3"},
			wantRemoved: []string{"m2"},
		},
		{
			name:    "token moves between markets",
			markets: []domain.Market{binary("m3", "a1", "c2"), binary("m1", "", "a3")},
			wantNew: []string{"c2"},
		},
		{
			name:        "everything gone",
			markets:     nil,
			wantRemoved: []string{"m1", "m3"},
		},
	}

	for _, tt := range steps {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Sync(tt.markets)
			if !equalStrings(res.NewAssetIDs, tt.wantNew) {
				t.Errorf("NewAssetIDs = %v, want %v", res.NewAssetIDs, tt.wantNew)
			}
			if !equalStrings(res.RemovedMarketIDs, tt.wantRemoved) {
				t.Errorf("RemovedMarketIDs = %v, want %v", res.RemovedMarketIDs, tt.wantRemoved)
			}
			indexMatchesMarkets(t, c)
			if c.Len() != len(tt.markets) {
				t.Errorf("Len() = %d, want %d", c.Len(), len(tt.markets))
			}
		})
	}
}

func TestMarketCache_AccessorsReturnCopies(t *testing.T) {
	c := NewMarketCache(nil)
	in := binary("m1", "a1", "a2")
	in.Liquidity = domain.Ptr(100)
	c.Sync([]domain.Market{in})

	in.Outcomes[0].Price = 0.99
	*in.Liquidity = 1

	got, ok := c.Market("m1")
	if !ok {
		t.Fatal("Market(m1) not found")
	}
	if got.Outcomes[0].Price != 0.5 {
		t.Errorf("Price = %v, want 0.5 (input aliasing)", got.Outcomes[0].Price)
	}
	if *got.Liquidity != 100 {
		t.Errorf("Liquidity = %v, want 100", *got.Liquidity)
	}

	got.Outcomes[0].Price = 0.01
	again, _ := c.Market("m1")
	if again.Outcomes[0].Price != 0.5 {
		t.Errorf("Price = %v, want 0.5 (output aliasing)", again.Outcomes[0].Price)
	}

	if _, ok := c.Market("missing"); ok {
		t.Error("Market(missing) returned ok")
	}
}

func TestMarketCache_AssetIDsSorted(t *testing.T) {
	c := NewMarketCache(nil)
	c.Sync([]domain.Market{binary("m2", "z", "y"), binary("m1", "b", "a")})

	ids := c.AssetIDs()
	if !sort.StringsAreSorted(ids) || len(ids) != 4 {
		t.Errorf("AssetIDs() = %v, want 4 sorted ids", ids)
	}

	ms := c.Markets()
	if len(ms) != 2 || ms[0].ID != "m1" || ms[1].ID != "m2" {
		t.Errorf("Markets() order = %v", ms)
	}
}

func TestMarketCache_ApplyBookSnapshot(t *testing.T) {
	c := NewMarketCache(nil)
	c.Sync([]domain.Market{binary("m1", "a1", "a2")})

	m, ok := c.ApplyBookSnapshot("a1",
		[]domain.BookLevel{{Price: 0.44, Size: domain.Ptr(10)}, {Price: 0.43, Size: domain.Ptr(50)}},
		[]domain.BookLevel{{Price: 0.46, Size: domain.Ptr(20)}},
	)
	if !ok {
		t.Fatal("ApplyBookSnapshot returned false")
	}
	o := m.Outcomes[0]
	if *o.BestBid != 0.44 || *o.BestBidSize != 10 {
		t.Errorf("bid = %v x %v, want 0.44 x 10", *o.BestBid, *o.BestBidSize)
	}
	if *o.BestAsk != 0.46 || *o.BestAskSize != 20 || o.Price != 0.46 {
		t.Errorf("ask = %v x %v price %v, want 0.46 x 20 price 0.46", *o.BestAsk, *o.BestAskSize, o.Price)
	}

	// Zero and empty sides leave state alone.
	m, _ = c.ApplyBookSnapshot("a1", []domain.BookLevel{{Price: 0, Size: domain.Ptr(5)}}, nil)
	o = m.Outcomes[0]
	if *o.BestBid != 0.44 || *o.BestAsk != 0.46 || o.Price != 0.46 {
		t.Errorf("zero book clobbered state: %+v", o)
	}

	if _, ok := c.ApplyBookSnapshot("unknown", nil, nil); ok {
		t.Error("ApplyBookSnapshot(unknown) returned true")
	}
}

func TestMarketCache_ApplyBookSnapshotMissingSize(t *testing.T) {
	c := NewMarketCache(nil)
	c.Sync([]domain.Market{binary("m1", "a1", "a2")})

	m, ok := c.ApplyBookSnapshot("a1",
		[]domain.BookLevel{{Price: 0.44}},
		[]domain.BookLevel{{Price: 0.46}},
	)
	if !ok {
		t.Fatal("ApplyBookSnapshot returned false")
	}
	o := m.Outcomes[0]
	if o.BestBid == nil || *o.BestBid != 0.44 || o.BestAsk == nil || *o.BestAsk != 0.46 {
		t.Errorf("top = %v / %v, want 0.44 / 0.46", o.BestBid, o.BestAsk)
	}
	if o.BestBidSize != nil {
		t.Errorf("BestBidSize = %v, want nil", *o.BestBidSize)
	}
	if o.BestAskSize != nil {
		t.Errorf("BestAskSize = %v, want nil", *o.BestAskSize)
	}
}

func TestMarketCache_ApplyPriceChanges(t *testing.T) {
	tests := []struct {
		name        string
		change      domain.PriceChange
		wantBid     *float64
		wantBidSize *float64
		wantAsk     *float64
		wantAskSize *float64
		wantPrice   float64
	}{
		{
			name:        "buy sets bid and size",
			change:      domain.PriceChange{AssetID: "a1", Side: domain.SideBuy, BestBid: domain.Ptr(0.41), Size: domain.Ptr(7)},
			wantBid:     domain.Ptr(0.41),
			wantBidSize: domain.Ptr(7),
			wantAsk:     domain.Ptr(0.47),
			wantAskSize: domain.Ptr(3),
			wantPrice:   0.47,
		},
		{
			name:        "sell bid update keeps bid size",
			change:      domain.PriceChange{AssetID: "a1", Side: domain.SideSell, BestBid: domain.Ptr(0.42), Size: domain.Ptr(9)},
			wantBid:     domain.Ptr(0.42),
			wantBidSize: domain.Ptr(1),
			wantAsk:     domain.Ptr(0.47),
			wantAskSize: domain.Ptr(3),
			wantPrice:   0.47,
		},
		{
			name:        "sell sets ask size and price",
			change:      domain.PriceChange{AssetID: "a1", Side: domain.SideSell, BestAsk: domain.Ptr(0.48), Size: domain.Ptr(4)},
			wantBid:     domain.Ptr(0.40),
			wantBidSize: domain.Ptr(1),
			wantAsk:     domain.Ptr(0.48),
			wantAskSize: domain.Ptr(4),
			wantPrice:   0.48,
		},
		{
			name:        "zero ask clears ask but keeps price",
			change:      domain.PriceChange{AssetID: "a1", Side: domain.SideSell, BestAsk: domain.Ptr(0), Size: domain.Ptr(0)},
			wantBid:     domain.Ptr(0.40),
			wantBidSize: domain.Ptr(1),
			wantPrice:   0.47,
		},
		{
			name:        "zero bid is ignored",
			change:      domain.PriceChange{AssetID: "a1", Side: domain.SideBuy, BestBid: domain.Ptr(0), Size: domain.Ptr(0)},
			wantBid:     domain.Ptr(0.40),
			wantBidSize: domain.Ptr(1),
			wantAsk:     domain.Ptr(0.47),
			wantAskSize: domain.Ptr(3),
			wantPrice:   0.47,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewMarketCache(nil)
			c.Sync([]domain.Market{binary("m1", "a1", "a2")})
			c.ApplyBookSnapshot("a1",
				[]domain.BookLevel{{Price: 0.40, Size: domain.Ptr(1)}},
				[]domain.BookLevel{{Price: 0.47, Size: domain.Ptr(3)}},
			)

			got := c.ApplyPriceChanges([]domain.PriceChange{tt.change})
			if len(got) != 1 {
				t.Fatalf("touched = %d, want 1", len(got))
			}
			o := got[0].Outcomes[0]
			checkPtr(t, "BestBid", o.BestBid, tt.wantBid)
			checkPtr(t, "BestBidSize", o.BestBidSize, tt.wantBidSize)
			checkPtr(t, "BestAsk", o.BestAsk, tt.wantAsk)
			checkPtr(t, "BestAskSize", o.BestAskSize, tt.wantAskSize)
			if o.Price != tt.wantPrice {
				t.Errorf("Price = %v, want %v", o.Price, tt.wantPrice)
			}
		})
	}
}

func TestMarketCache_ApplyPriceChangesTouchedOrder(t *testing.T) {
	c := NewMarketCache(nil)
	c.Sync([]domain.Market{binary("m1", "a1", "a2"), binary("m2", "b1", "b2")})

	got := c.ApplyPriceChanges([]domain.PriceChange{
		{AssetID: "b1", Side: domain.SideSell, BestAsk: domain.Ptr(0.3)},
		{AssetID: "unknown", Side: domain.SideSell, BestAsk: domain.Ptr(0.3)},
		{AssetID: "a2", Side: domain.SideSell, BestAsk: domain.Ptr(0.6)},
		{AssetID: "b2", Side: domain.SideSell, BestAsk: domain.Ptr(0.6)},
	})
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m1" {
		t.Fatalf("touched markets = %v, want [m2 m1]", got)
	}
	if got[0].Outcomes[0].Price != 0.3 || got[0].Outcomes[1].Price != 0.6 {
		t.Errorf("m2 prices = %v/%v, want 0.3/0.6", got[0].Outcomes[0].Price, got[0].Outcomes[1].Price)
	}
}

func checkPtr(t *testing.T, name string, got, want *float64) {
	t.Helper()
	switch {
	case got == nil && want == nil:
	case got == nil || want == nil:
		t.Errorf("%s = %v, want %v", name, got, want)
	case *got != *want:
		t.Errorf("%s = %v, want %v", name, *got, *want)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
