package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// GammaClient lists markets from the Polymarket Gamma REST API.
type GammaClient struct {
	marketsURL string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma client. marketsURL is the full markets
// endpoint, e.g. "https://gamma-api.polymarket.com/markets".
func NewGammaClient(marketsURL string, timeout time.Duration) *GammaClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GammaClient{
		marketsURL: marketsURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchMarkets returns up to limit active, open, unarchived markets as raw
// JSON objects. The endpoint may answer with a bare array or an object
// wrapping it under "data" or "markets".
func (g *GammaClient) FetchMarkets(ctx context.Context, limit int) ([]json.RawMessage, error) {
	u, err := url.Parse(g.marketsURL)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: parse url: %w", err)
	}
	params := u.Query()
	params.Set("limit", strconv.Itoa(limit))
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("archived", "false")
	u.RawQuery = params.Encode()

	body, err := doGet(ctx, g.httpClient, u.String())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: fetch markets: %w", err)
	}

	markets, err := decodeMarketList(body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	return markets, nil
}

func decodeMarketList(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var env gammaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.Data != nil {
		return env.Data, nil
	}
	return env.Markets, nil
}
