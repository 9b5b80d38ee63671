package polymarket

import (
	"errors"
	"testing"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

func TestParseMessage_ControlAndMalformed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "ping", raw: "PING"},
		{name: "pong", raw: " PONG\n"},
		{name: "quoted pong", raw: `"PONG"`},
		{name: "not json", raw: "hello there", wantErr: true},
		{name: "truncated", raw: `{"event_type":"book"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := ParseMessage([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Errorf("error = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil || len(events) != 0 {
				t.Errorf("ParseMessage() = %v, %v; want no events", events, err)
			}
		})
	}
}

func TestParseMessage_Book(t *testing.T) {
	raw := `{"event_type":"book","asset_id":"111","market":"0xabc","bids":[{"price":"0.44","size":"100"},{"price":"0.43","size":"5"}],"asks":[{"price":0.46,"size":20}]}`

	events, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != EventBook || ev.AssetID != "111" {
		t.Errorf("event = %+v", ev)
	}
	if len(ev.Bids) != 2 || !levelEqual(ev.Bids[0], 0.44, 100) {
		t.Errorf("Bids = %+v", ev.Bids)
	}
	if len(ev.Asks) != 1 || !levelEqual(ev.Asks[0], 0.46, 20) {
		t.Errorf("Asks = %+v", ev.Asks)
	}
}

func TestParseMessage_BookLevelWithoutSize(t *testing.T) {
	raw := `{"event_type":"book","asset_id":"111","bids":[{"price":"0.44"}],"asks":[{"price":"0.46","size":""}]}`

	events, err := ParseMessage([]byte(raw))
	if err != nil || len(events) != 1 {
		t.Fatalf("ParseMessage() = %v, %v; want one event", events, err)
	}
	ev := events[0]
	if len(ev.Bids) != 1 || ev.Bids[0].Price != 0.44 || ev.Bids[0].Size != nil {
		t.Errorf("Bids = %+v, want price 0.44 with nil size", ev.Bids)
	}
	if len(ev.Asks) != 1 || ev.Asks[0].Price != 0.46 || ev.Asks[0].Size != nil {
		t.Errorf("Asks = %+v, want price 0.46 with nil size", ev.Asks)
	}
}

func levelEqual(l domain.BookLevel, price, size float64) bool {
	return l.Price == price && l.Size != nil && *l.Size == size
}

func TestParseMessage_PriceChangeBatch(t *testing.T) {
	raw := `[
		{"type":"price_change","priceChanges":[{"assetId":"111","side":"sell","bestAsk":"0","size":"0"}]},
		"noise",
		{"event_type":"price_change","price_changes":[{"asset_id":"222","side":"BUY","best_bid":"0.41","best_ask":"","size":"12"}]},
		{"event_type":"last_trade_price","asset_id":"222","price":"0.42"}
	]`

	events, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	first := events[0].Changes
	if len(first) != 1 || first[0].AssetID != "111" || first[0].Side != domain.SideSell {
		t.Fatalf("first changes = %+v", first)
	}
	if first[0].BestAsk == nil || *first[0].BestAsk != 0 || first[0].BestBid != nil {
		t.Errorf("first change prices = bid %v ask %v", first[0].BestBid, first[0].BestAsk)
	}

	second := events[1].Changes
	if len(second) != 1 || second[0].BestBid == nil || *second[0].BestBid != 0.41 {
		t.Fatalf("second changes = %+v", second)
	}
	if second[0].BestAsk != nil {
		t.Errorf("empty best_ask decoded as %v, want nil", *second[0].BestAsk)
	}
	if second[0].Size == nil || *second[0].Size != 12 {
		t.Errorf("Size = %v, want 12", second[0].Size)
	}

	if events[2].Type != EventLastTradePrice || events[2].Price == nil || *events[2].Price != 0.42 {
		t.Errorf("trade event = %+v", events[2])
	}
}
