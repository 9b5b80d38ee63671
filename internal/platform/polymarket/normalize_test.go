package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantOK bool
		check  func(t *testing.T, m domain.Market)
	}{
		{
			name:   "gamma encoded strings",
			raw:    `{"id":"253591","question":"Will it rain?","slug":"will-it-rain","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.4\",\"0.55\"]","clobTokenIds":"[\"111\",\"222\"]","liquidity":"1500.5","category":"Weather","endDate":"2024-11-05T12:00:00Z","conditionId":"0xabc"}`,
			wantOK: true,
			check: func(t *testing.T, m domain.Market) {
				if m.ID != "253591" || m.Question != "Will it rain?" {
					t.Errorf("id/question = %q/%q", m.ID, m.Question)
				}
				if m.URL != "https://polymarket.com/event/will-it-rain" {
					t.Errorf("URL = %q", m.URL)
				}
				if len(m.Outcomes) != 2 || m.Outcomes[0].Price != 0.4 || m.Outcomes[1].Price != 0.55 {
					t.Errorf("Outcomes = %+v", m.Outcomes)
				}
				if m.Outcomes[0].TokenID != "111" || m.Outcomes[1].TokenID != "222" {
					t.Errorf("token ids = %q/%q", m.Outcomes[0].TokenID, m.Outcomes[1].TokenID)
				}
				if m.Liquidity == nil || *m.Liquidity != 1500.5 {
					t.Errorf("Liquidity = %v, want 1500.5", m.Liquidity)
				}
				if m.Category != "Weather" || m.ConditionID != "0xabc" {
					t.Errorf("category/condition = %q/%q", m.Category, m.ConditionID)
				}
				want := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)
				if m.CloseTime == nil || !m.CloseTime.Equal(want) {
					t.Errorf("CloseTime = %v, want %v", m.CloseTime, want)
				}
			},
		},
		{
			name:   "aliases and native arrays",
			raw:    `{"_id":42,"title":"Who wins?","contracts":["A","","C"],"prices":[0.2,0.3,0.4],"url":"https://example.com/m","subcategory":"Sports","closesAt":1700000000,"liquidityNum":250,"condition_id":"0xdef"}`,
			wantOK: true,
			check: func(t *testing.T, m domain.Market) {
				if m.ID != "42" || m.Question != "Who wins?" || m.URL != "https://example.com/m" {
					t.Errorf("market = %+v", m)
				}
				if len(m.Outcomes) != 2 || m.Outcomes[0].Name != "A" || m.Outcomes[1].Name != "C" || m.Outcomes[1].Price != 0.4 {
					t.Errorf("Outcomes = %+v", m.Outcomes)
				}
				if m.Category != "Sports" || m.ConditionID != "0xdef" {
					t.Errorf("category/condition = %q/%q", m.Category, m.ConditionID)
				}
				if m.CloseTime == nil || m.CloseTime.Unix() != 1700000000 {
					t.Errorf("CloseTime = %v", m.CloseTime)
				}
				if m.Liquidity == nil || *m.Liquidity != 250 {
					t.Errorf("Liquidity = %v", m.Liquidity)
				}
			},
		},
		{
			name:   "url falls back to id and zero liquidity is absent",
			raw:    `{"market_id":"m9","question":"Q","outcomes":["Yes","No"],"outcomePrices":["0.5","bad"],"liquidity":0}`,
			wantOK: true,
			check: func(t *testing.T, m domain.Market) {
				if m.URL != "https://polymarket.com/event/m9" {
					t.Errorf("URL = %q", m.URL)
				}
				if m.Liquidity != nil {
					t.Errorf("Liquidity = %v, want nil", *m.Liquidity)
				}
				if m.Outcomes[1].Price != 0 {
					t.Errorf("unparseable price = %v, want 0", m.Outcomes[1].Price)
				}
				if m.Outcomes[0].TokenID != "" {
					t.Errorf("TokenID = %q, want empty", m.Outcomes[0].TokenID)
				}
			},
		},
		{name: "missing id", raw: `{"question":"Q","outcomes":["Yes"],"outcomePrices":["1"]}`},
		{name: "missing question", raw: `{"id":"1","outcomes":["Yes"],"outcomePrices":["1"]}`},
		{name: "no outcomes", raw: `{"id":"1","question":"Q","outcomes":"not json","outcomePrices":"[]"}`},
		{name: "not an object", raw: `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := Normalize(json.RawMessage(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("Normalize() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && tt.check != nil {
				tt.check(t, m)
			}
		})
	}
}

func TestEnrich(t *testing.T) {
	markets := []domain.Market{
		{ID: "1", ConditionID: "c1", Outcomes: []domain.Outcome{{Name: "Yes"}, {Name: "No", TokenID: "keep"}}},
		{ID: "2", ConditionID: "c2", Outcomes: []domain.Outcome{{Name: "Yes"}}},
		{ID: "3", Outcomes: []domain.Outcome{{Name: "Yes"}}},
	}

	ids := ConditionIDs(markets)
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Errorf("ConditionIDs() = %v, want [c1 c2]", ids)
	}

	n := Enrich(markets, TokenMap{"c1": {"Yes": "t1", "No": "t2"}})
	if n != 1 {
		t.Errorf("Enrich() = %d, want 1", n)
	}
	if markets[0].Outcomes[0].TokenID != "t1" || markets[0].Outcomes[1].TokenID != "keep" {
		t.Errorf("outcomes = %+v", markets[0].Outcomes)
	}
	if markets[1].Outcomes[0].TokenID != "" {
		t.Errorf("unmapped market enriched: %+v", markets[1].Outcomes)
	}
}
