// Package arbitrage derives underround signals from normalized markets.
package arbitrage

import (
	"time"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

// Thresholds gate which markets surface as opportunities.
type Thresholds struct {
	MinEdge      float64
	MinLiquidity float64
}

// Engine computes opportunities against fixed thresholds. The zero value uses
// time.Now for timestamps.
type Engine struct {
	th  Thresholds
	now func() time.Time
}

// NewEngine creates an edge engine.
func NewEngine(th Thresholds) *Engine {
	return &Engine{th: th, now: time.Now}
}

// WithClock returns a copy of the engine that stamps opportunities with now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	cp := *e
	cp.now = now
	return &cp
}

// Thresholds returns the engine thresholds.
func (e *Engine) Thresholds() Thresholds { return e.th }

// Edge returns 1 minus the sum of outcome prices.
func Edge(m domain.Market) float64 {
	return 1.0 - sumPrices(m)
}

func sumPrices(m domain.Market) float64 {
	var sum float64
	for _, o := range m.Outcomes {
		sum += o.Price
	}
	return sum
}

// Compute returns the opportunity for m, or false when m misses either
// threshold. Absent liquidity counts as zero.
func (e *Engine) Compute(m domain.Market) (domain.Opportunity, bool) {
	sum := sumPrices(m)
	edge := 1.0 - sum
	if edge < e.th.MinEdge || m.LiquidityOrZero() < e.th.MinLiquidity {
		return domain.Opportunity{}, false
	}

	clock := e.now
	if clock == nil {
		clock = time.Now
	}

	opp := domain.Opportunity{
		MarketID:    m.ID,
		Question:    m.Question,
		SumPrices:   sum,
		Edge:        edge,
		NumOutcomes: len(m.Outcomes),
		Liquidity:   domain.Float(m.Liquidity),
		URL:         m.URL,
		UpdatedAt:   clock().UTC(),
	}
	if m.Category != "" {
		c := m.Category
		opp.Category = &c
	}
	return opp, true
}

// ComputeAll applies Compute to each market, keeping input order and dropping
// markets that produce nothing.
func (e *Engine) ComputeAll(markets []domain.Market) []domain.Opportunity {
	out := make([]domain.Opportunity, 0, len(markets))
	for _, m := range markets {
		if opp, ok := e.Compute(m); ok {
			out = append(out, opp)
		}
	}
	return out
}

// ComputeOpportunity is Compute on a throwaway engine using the wall clock.
func ComputeOpportunity(m domain.Market, th Thresholds) (domain.Opportunity, bool) {
	return NewEngine(th).Compute(m)
}

// ComputeOpportunities is ComputeAll on a throwaway engine using the wall clock.
func ComputeOpportunities(markets []domain.Market, th Thresholds) []domain.Opportunity {
	return NewEngine(th).ComputeAll(markets)
}
