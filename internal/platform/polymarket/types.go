package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// optFloat decodes a JSON number or numeric string. null, "" and unparseable
// values leave Valid false.
type optFloat struct {
	Value float64
	Valid bool
}

func (f *optFloat) UnmarshalJSON(data []byte) error {
	*f = optFloat{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		*f = optFloat{Value: v, Valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	*f = optFloat{Value: v, Valid: true}
	return nil
}

// Ptr returns the value as a fresh pointer, or nil when not valid.
func (f optFloat) Ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

func firstFloat(vals ...optFloat) optFloat {
	for _, v := range vals {
		if v.Valid {
			return v
		}
	}
	return optFloat{}
}

// flexString decodes a JSON string or number into its string form.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	*s = ""
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return nil
	}
	*s = flexString(n.String())
	return nil
}

func firstString(vals ...flexString) string {
	for _, v := range vals {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// jsonList decodes a JSON array or a string holding a JSON-encoded array,
// the two shapes Gamma uses for outcomes, prices and token ids.
type jsonList []json.RawMessage

func (l *jsonList) UnmarshalJSON(data []byte) error {
	*l = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil
		}
		data = []byte(inner)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	*l = items
	return nil
}

func firstList(vals ...jsonList) jsonList {
	for _, v := range vals {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Gamma DTOs
// --------------------------------------------------------------------------

// gammaMarket lists every alias the normalizer accepts.
type gammaMarket struct {
	ID           flexString      `json:"id"`
	UnderID      flexString      `json:"_id"`
	MarketID     flexString      `json:"market_id"`
	Question     flexString      `json:"question"`
	Title        flexString      `json:"title"`
	Outcomes     jsonList        `json:"outcomes"`
	Contracts    jsonList        `json:"contracts"`
	Prices       jsonList        `json:"outcomePrices"`
	PricesAlt    jsonList        `json:"prices"`
	TokenIDs     jsonList        `json:"clobTokenIds"`
	URL          flexString      `json:"url"`
	Slug         flexString      `json:"slug"`
	Category     flexString      `json:"category"`
	Subcategory  flexString      `json:"subcategory"`
	CloseTime    json.RawMessage `json:"closeTime"`
	CloseDate    json.RawMessage `json:"closeDate"`
	EndDate      json.RawMessage `json:"endDate"`
	ClosesAt     json.RawMessage `json:"closesAt"`
	Liquidity    optFloat        `json:"liquidity"`
	Liquidity24  optFloat        `json:"liquidity24hr"`
	LiquidityN   optFloat        `json:"liquidityNum"`
	ConditionID  flexString      `json:"conditionId"`
	ConditionAlt flexString      `json:"condition_id"`
}

type gammaEnvelope struct {
	Data    []json.RawMessage `json:"data"`
	Markets []json.RawMessage `json:"markets"`
}

// --------------------------------------------------------------------------
// CLOB DTOs
// --------------------------------------------------------------------------

type clobMarketsPage struct {
	Data       []clobMarket `json:"data"`
	NextCursor string       `json:"next_cursor"`
}

type clobMarket struct {
	ConditionID string      `json:"condition_id"`
	Tokens      []clobToken `json:"tokens"`
}

type clobToken struct {
	TokenID flexString `json:"token_id"`
	Outcome string     `json:"outcome"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// SubscribeMessage is the outbound market-channel subscription.
type SubscribeMessage struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

type wsLevel struct {
	Price optFloat `json:"price"`
	Size  optFloat `json:"size"`
}

type wsPriceChange struct {
	AssetID      flexString `json:"asset_id"`
	AssetIDCamel flexString `json:"assetId"`
	Side         string     `json:"side"`
	BestBid      optFloat   `json:"best_bid"`
	BestBidCamel optFloat   `json:"bestBid"`
	BestAsk      optFloat   `json:"best_ask"`
	BestAskCamel optFloat   `json:"bestAsk"`
	Size         optFloat   `json:"size"`
}

type wsEvent struct {
	EventType         string          `json:"event_type"`
	Type              string          `json:"type"`
	AssetID           flexString      `json:"asset_id"`
	AssetIDCamel      flexString      `json:"assetId"`
	Market            string          `json:"market"`
	Bids              []wsLevel       `json:"bids"`
	Asks              []wsLevel       `json:"asks"`
	PriceChanges      []wsPriceChange `json:"price_changes"`
	PriceChangesCamel []wsPriceChange `json:"priceChanges"`
	Price             optFloat        `json:"price"`
}
