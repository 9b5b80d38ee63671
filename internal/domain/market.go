package domain

import "time"

// Outcome is one tradable side of a market. Optional order-book fields are nil
// until the feed has reported them.
type Outcome struct {
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	BestBid     *float64 `json:"bestBid,omitempty"`
	BestBidSize *float64 `json:"bestBidSize,omitempty"`
	BestAsk     *float64 `json:"bestAsk,omitempty"`
	BestAskSize *float64 `json:"bestAskSize,omitempty"`
	// TokenID is the feed-level asset id. Empty until enrichment resolves it.
	TokenID string `json:"tokenId,omitempty"`
}

// Market is a normalized prediction market. Outcome order is stable: the
// asset index refers to outcomes by position.
type Market struct {
	ID          string     `json:"id"`
	Question    string     `json:"question"`
	URL         string     `json:"url"`
	Outcomes    []Outcome  `json:"outcomes"`
	Category    string     `json:"category,omitempty"`
	CloseTime   *time.Time `json:"closeTime,omitempty"`
	Liquidity   *float64   `json:"liquidity,omitempty"`
	ConditionID string     `json:"conditionId,omitempty"`
}

// LiquidityOrZero returns the market liquidity, treating an absent value as 0.
func (m Market) LiquidityOrZero() float64 {
	if m.Liquidity == nil {
		return 0
	}
	return *m.Liquidity
}

// Clone returns a deep copy of m. Mutating the copy never affects m.
func (m Market) Clone() Market {
	out := m
	if m.Outcomes != nil {
		out.Outcomes = make([]Outcome, len(m.Outcomes))
		for i, o := range m.Outcomes {
			out.Outcomes[i] = o.clone()
		}
	}
	out.CloseTime = cloneTime(m.CloseTime)
	out.Liquidity = Float(m.Liquidity)
	return out
}

func (o Outcome) clone() Outcome {
	out := o
	out.BestBid = Float(o.BestBid)
	out.BestBidSize = Float(o.BestBidSize)
	out.BestAsk = Float(o.BestAsk)
	out.BestAskSize = Float(o.BestAskSize)
	return out
}

// Float returns a fresh pointer holding *p, or nil when p is nil.
func Float(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr(v float64) *float64 {
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// MarketSyncResult is the outcome of a full-state cache resync.
type MarketSyncResult struct {
	// NewAssetIDs are token ids not indexed before the sync. Sorted.
	NewAssetIDs []string
	// RemovedMarketIDs are markets evicted because the listing no longer had them. Sorted.
	RemovedMarketIDs []string
}
