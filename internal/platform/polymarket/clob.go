package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	firstCursor = "MA=="
	endCursor   = "LTE="
)

// TokenMap maps condition id to outcome name to token id.
type TokenMap map[string]map[string]string

// ClobClient resolves outcome token ids from the public CLOB markets listing.
// Resolved condition ids are memoized for the life of the client.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	cache TokenMap
}

// NewClobClient creates a CLOB client for host, e.g. "https://clob.polymarket.com".
func NewClobClient(host string, timeout time.Duration, logger *slog.Logger) *ClobClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClobClient{
		baseURL:    strings.TrimRight(host, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "clob_client")),
		cache:      make(TokenMap),
	}
}

// FetchTokens returns token mappings for the given condition ids. Memoized ids
// are answered from memory; the rest are searched page by page until all are
// found, the listing ends, or a cursor repeats. A page failure stops the walk
// and is returned alongside whatever was resolved so far.
func (c *ClobClient) FetchTokens(ctx context.Context, conditionIDs []string) (TokenMap, error) {
	out := make(TokenMap)
	remaining := make(map[string]struct{})

	c.mu.Lock()
	for _, cid := range conditionIDs {
		if cid == "" {
			continue
		}
		if cached, ok := c.cache[cid]; ok {
			out[cid] = cached
			continue
		}
		remaining[cid] = struct{}{}
	}
	c.mu.Unlock()

	seen := make(map[string]struct{})
	cursor := firstCursor
	var pageErr error

	for cursor != "" && len(remaining) > 0 {
		page, err := c.fetchPage(ctx, cursor)
		if err != nil {
			pageErr = fmt.Errorf("polymarket/clob: markets page %s: %w", cursor, err)
			break
		}

		for _, m := range page.Data {
			if _, want := remaining[m.ConditionID]; !want {
				continue
			}
			mapping := make(map[string]string, len(m.Tokens))
			for _, tok := range m.Tokens {
				if tok.Outcome == "" || tok.TokenID == "" {
					continue
				}
				mapping[tok.Outcome] = string(tok.TokenID)
			}
			if len(mapping) == 0 {
				continue
			}
			out[m.ConditionID] = mapping
			delete(remaining, m.ConditionID)

			c.mu.Lock()
			c.cache[m.ConditionID] = mapping
			c.mu.Unlock()
		}

		next := page.NextCursor
		if _, dup := seen[next]; dup || next == endCursor {
			break
		}
		seen[next] = struct{}{}
		cursor = next
	}

	if len(remaining) > 0 {
		c.logger.Debug("token fetch finished with unresolved condition ids",
			slog.Int("missing", len(remaining)),
		)
	}
	return out, pageErr
}

func (c *ClobClient) fetchPage(ctx context.Context, cursor string) (clobMarketsPage, error) {
	u := c.baseURL + "/markets?" + url.Values{"next_cursor": {cursor}}.Encode()
	body, err := doGet(ctx, c.httpClient, u)
	if err != nil {
		return clobMarketsPage{}, err
	}
	var page clobMarketsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return clobMarketsPage{}, fmt.Errorf("decode: %w", err)
	}
	return page, nil
}
