package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Opportunity is a surfaced underround: a market whose outcome prices sum to
// less than one by at least the configured edge.
type Opportunity struct {
	MarketID    string    `json:"marketId"`
	Question    string    `json:"question"`
	SumPrices   float64   `json:"sumPrices"`
	Edge        float64   `json:"edge"`
	NumOutcomes int       `json:"numOutcomes"`
	Liquidity   *float64  `json:"liquidity"`
	URL         string    `json:"url"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Category    *string   `json:"category"`
}

// CategoryOrEmpty returns the category or "" when absent.
func (o Opportunity) CategoryOrEmpty() string {
	if o.Category == nil {
		return ""
	}
	return *o.Category
}

// Serialize returns the canonical JSON encoding used for snapshot storage and
// change detection. Equal bytes mean "no change".
func (o Opportunity) Serialize() ([]byte, error) {
	o.UpdatedAt = o.UpdatedAt.UTC()
	return json.Marshal(o)
}

// UpdateType discriminates OpportunityUpdate variants.
type UpdateType string

const (
	UpdateUpsert UpdateType = "upsert"
	UpdateRemove UpdateType = "remove"
)

// OpportunityUpdate is the unit published on the broadcast channel. Build it
// with NewUpsert or NewRemove; the opportunity is present iff Type is upsert.
type OpportunityUpdate struct {
	Type        UpdateType   `json:"type"`
	MarketID    string       `json:"marketId"`
	Opportunity *Opportunity `json:"opportunity"`
}

// NewUpsert builds an upsert update carrying opp.
func NewUpsert(opp Opportunity) OpportunityUpdate {
	return OpportunityUpdate{Type: UpdateUpsert, MarketID: opp.MarketID, Opportunity: &opp}
}

// NewRemove builds a remove update for marketID.
func NewRemove(marketID string) OpportunityUpdate {
	return OpportunityUpdate{Type: UpdateRemove, MarketID: marketID}
}

// Validate reports whether the variant invariant holds.
func (u OpportunityUpdate) Validate() error {
	switch u.Type {
	case UpdateUpsert:
		if u.Opportunity == nil {
			return fmt.Errorf("%w: upsert %s without opportunity", ErrInvalidArgument, u.MarketID)
		}
	case UpdateRemove:
		if u.Opportunity != nil {
			return fmt.Errorf("%w: remove %s with opportunity", ErrInvalidArgument, u.MarketID)
		}
	default:
		return fmt.Errorf("%w: unknown update type %q", ErrInvalidArgument, u.Type)
	}
	return nil
}

// HistoryPoint is one entry of a market's capped edge time series.
type HistoryPoint struct {
	Edge      float64   `json:"edge"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HistoryOrder selects the read direction of a history series.
type HistoryOrder string

const (
	OrderAsc  HistoryOrder = "asc"
	OrderDesc HistoryOrder = "desc"
)

// OpportunityFilter narrows a snapshot read.
type OpportunityFilter struct {
	MinEdge      float64
	MinLiquidity float64
	// Category matches case-insensitively when non-empty.
	Category string
}

// ArchivedUpdate is an OpportunityUpdate persisted by the update recorder.
type ArchivedUpdate struct {
	ID         string
	Type       UpdateType
	MarketID   string
	Edge       *float64
	SumPrices  *float64
	Liquidity  *float64
	ReceivedAt time.Time
}
