package polymarket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

// Market-channel event types.
const (
	EventBook           = "book"
	EventPriceChange    = "price_change"
	EventLastTradePrice = "last_trade_price"
	EventTickSizeChange = "tick_size_change"
)

// ErrMalformedFrame is returned for frames that are not JSON.
var ErrMalformedFrame = errors.New("polymarket/ws: malformed frame")

// Event is one decoded market-channel event.
type Event struct {
	Type    string
	AssetID string
	Market  string
	Bids    []domain.BookLevel
	Asks    []domain.BookLevel
	Changes []domain.PriceChange
	// Price is set on last_trade_price events.
	Price *float64
}

// ParseMessage decodes a market-channel frame. A frame may carry one event
// object or an array of them. PING/PONG control tokens yield no events and no
// error; anything that is not JSON yields ErrMalformedFrame.
func ParseMessage(raw []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if isControlToken(string(trimmed)) {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: %.64q", ErrMalformedFrame, trimmed)
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		events := make([]Event, 0, len(items))
		for _, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) == 0 || item[0] != '{' {
				continue
			}
			if ev, ok := decodeEvent(item); ok {
				events = append(events, ev)
			}
		}
		return events, nil
	case '{':
		if ev, ok := decodeEvent(trimmed); ok {
			return []Event{ev}, nil
		}
		return nil, nil
	case '"':
		// Bare JSON strings carry nothing but control tokens.
		return nil, nil
	default:
		return nil, nil
	}
}

func isControlToken(s string) bool {
	s = strings.Trim(s, `"`)
	return s == "PING" || s == "PONG"
}

func decodeEvent(data []byte) (Event, bool) {
	var raw wsEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, false
	}

	ev := Event{
		Type:    raw.EventType,
		AssetID: firstString(raw.AssetID, raw.AssetIDCamel),
		Market:  raw.Market,
		Price:   raw.Price.Ptr(),
	}
	if ev.Type == "" {
		ev.Type = raw.Type
	}

	switch ev.Type {
	case EventBook:
		ev.Bids = toLevels(raw.Bids)
		ev.Asks = toLevels(raw.Asks)
	case EventPriceChange:
		changes := raw.PriceChanges
		if len(changes) == 0 {
			changes = raw.PriceChangesCamel
		}
		ev.Changes = make([]domain.PriceChange, 0, len(changes))
		for _, c := range changes {
			ev.Changes = append(ev.Changes, domain.PriceChange{
				AssetID: firstString(c.AssetID, c.AssetIDCamel),
				Side:    domain.Side(strings.ToUpper(strings.TrimSpace(c.Side))),
				BestBid: firstFloat(c.BestBid, c.BestBidCamel).Ptr(),
				BestAsk: firstFloat(c.BestAsk, c.BestAskCamel).Ptr(),
				Size:    c.Size.Ptr(),
			})
		}
	}
	return ev, true
}

func toLevels(in []wsLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.BookLevel{Price: l.Price.Value, Size: l.Size.Ptr()})
	}
	return out
}
