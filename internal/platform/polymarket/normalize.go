package polymarket

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

const eventURLBase = "https://polymarket.com/event/"

// Normalize converts one Gamma market payload into a domain.Market. It
// returns false when the payload lacks an id, a question or any outcome.
func Normalize(raw json.RawMessage) (domain.Market, bool) {
	var g gammaMarket
	if err := json.Unmarshal(raw, &g); err != nil {
		return domain.Market{}, false
	}

	id := firstString(g.ID, g.UnderID, g.MarketID)
	if id == "" {
		return domain.Market{}, false
	}
	question := firstString(g.Question, g.Title)
	if question == "" {
		return domain.Market{}, false
	}

	outcomes := parseOutcomes(firstList(g.Outcomes, g.Contracts), firstList(g.Prices, g.PricesAlt), g.TokenIDs)
	if len(outcomes) == 0 {
		return domain.Market{}, false
	}

	m := domain.Market{
		ID:          id,
		Question:    question,
		URL:         buildURL(g, id),
		Outcomes:    outcomes,
		Category:    firstString(g.Category, g.Subcategory),
		CloseTime:   parseCloseTime(g.CloseTime, g.CloseDate, g.EndDate, g.ClosesAt),
		ConditionID: firstString(g.ConditionID, g.ConditionAlt),
	}

	liq := firstNonZero(g.Liquidity, g.Liquidity24, g.LiquidityN)
	if liq.Valid && liq.Value > 0 {
		m.Liquidity = domain.Ptr(liq.Value)
	}
	return m, true
}

// NormalizeAll normalizes every payload, dropping the ones that do not qualify.
func NormalizeAll(raws []json.RawMessage) []domain.Market {
	out := make([]domain.Market, 0, len(raws))
	for _, raw := range raws {
		if m, ok := Normalize(raw); ok {
			out = append(out, m)
		}
	}
	return out
}

// ConditionIDs returns the distinct condition ids of markets that still have
// an outcome without a token id.
func ConditionIDs(markets []domain.Market) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range markets {
		if m.ConditionID == "" || !missingToken(m) {
			continue
		}
		if _, ok := seen[m.ConditionID]; ok {
			continue
		}
		seen[m.ConditionID] = struct{}{}
		ids = append(ids, m.ConditionID)
	}
	return ids
}

func missingToken(m domain.Market) bool {
	for _, o := range m.Outcomes {
		if o.TokenID == "" {
			return true
		}
	}
	return false
}

// Enrich fills empty outcome token ids from tokens by outcome name, in place.
// It returns the number of outcomes enriched.
func Enrich(markets []domain.Market, tokens TokenMap) int {
	n := 0
	for i := range markets {
		byName := tokens[markets[i].ConditionID]
		if len(byName) == 0 {
			continue
		}
		for j := range markets[i].Outcomes {
			o := &markets[i].Outcomes[j]
			if o.TokenID != "" {
				continue
			}
			if tok, ok := byName[o.Name]; ok && tok != "" {
				o.TokenID = tok
				n++
			}
		}
	}
	return n
}

// parseOutcomes zips names with prices, and with token ids when there is
// exactly one per name. Empty names are dropped; unparseable prices are 0.
func parseOutcomes(names, prices, tokens jsonList) []domain.Outcome {
	n := min(len(names), len(prices))
	withTokens := len(tokens) == len(names)

	out := make([]domain.Outcome, 0, n)
	for i := 0; i < n; i++ {
		var name flexString
		if err := json.Unmarshal(names[i], &name); err != nil || strings.TrimSpace(string(name)) == "" {
			continue
		}
		var price optFloat
		_ = json.Unmarshal(prices[i], &price)

		o := domain.Outcome{Name: string(name), Price: price.Value}
		if withTokens {
			var tok flexString
			if err := json.Unmarshal(tokens[i], &tok); err == nil {
				o.TokenID = string(tok)
			}
		}
		out = append(out, o)
	}
	return out
}

func buildURL(g gammaMarket, id string) string {
	if g.URL != "" {
		return string(g.URL)
	}
	if g.Slug != "" {
		return eventURLBase + string(g.Slug)
	}
	return eventURLBase + id
}

func firstNonZero(vals ...optFloat) optFloat {
	for _, v := range vals {
		if v.Valid && v.Value != 0 {
			return v
		}
	}
	return optFloat{}
}

// parseCloseTime takes the first field that parses as RFC3339, a plain date
// or unix seconds.
func parseCloseTime(fields ...json.RawMessage) *time.Time {
	for _, f := range fields {
		f = bytes.TrimSpace(f)
		if len(f) == 0 || bytes.Equal(f, []byte("null")) {
			continue
		}
		if f[0] == '"' {
			var s string
			if err := json.Unmarshal(f, &s); err != nil {
				continue
			}
			if t, ok := parseTimeString(strings.TrimSpace(s)); ok {
				return &t
			}
			continue
		}
		var secs float64
		if err := json.Unmarshal(f, &secs); err != nil {
			continue
		}
		whole, frac := math.Modf(secs)
		t := time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
		return &t
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

func parseTimeString(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
