// Package feed keeps the market cache live against the Polymarket market
// websocket channel.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/platform/polymarket"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPingInterval   = 10 * time.Second
	defaultChunkSize      = 100
	defaultReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 60 * time.Second

	// idlePings is how many heartbeat periods the peer may stay silent before
	// the connection is considered dead.
	idlePings = 6
)

// errCleanClose ends a connection whose peer closed normally.
var errCleanClose = errors.New("feed: peer closed connection")

// Config configures a MarketStream.
type Config struct {
	URL               string
	PingInterval      time.Duration
	ChunkSize         int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// InsecureSkipVerify disables TLS certificate verification. Never in production.
	InsecureSkipVerify bool
	HandshakeTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
	c.PingInterval = max(c.PingInterval, time.Second)
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	c.ChunkSize = max(c.ChunkSize, 1)
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	c.ReconnectDelay = max(c.ReconnectDelay, time.Second)
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = maxReconnectDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// MarketState is the cache surface the stream reads and mutates.
type MarketState interface {
	AssetIDs() []string
	ApplyBookSnapshot(assetID string, bids, asks []domain.BookLevel) (domain.Market, bool)
	ApplyPriceChanges(changes []domain.PriceChange) []domain.Market
}

// MarketProcessor recomputes and republishes a market after a cache update.
type MarketProcessor interface {
	ProcessMarket(ctx context.Context, m domain.Market)
}

// Stats is a point-in-time view of the stream.
type Stats struct {
	Connected  bool `json:"connected"`
	Subscribed int  `json:"subscribed"`
	Reconnects int  `json:"reconnects"`
}

// MarketStream owns the market-channel connection. Each connection runs a
// receiver, a pinger and a subscriber; the first to fail tears all three
// down and the stream reconnects with exponential backoff.
type MarketStream struct {
	cfg       Config
	cache     MarketState
	processor MarketProcessor
	queue     *SubscriptionQueue
	logger    *slog.Logger

	// sleep waits between reconnect attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	connected  atomic.Bool
	subscribed atomic.Int64
	reconnects atomic.Int64
}

// NewMarketStream creates a MarketStream.
func NewMarketStream(cfg Config, cache MarketState, processor MarketProcessor, queue *SubscriptionQueue, logger *slog.Logger) *MarketStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketStream{
		cfg:       cfg.withDefaults(),
		cache:     cache,
		processor: processor,
		queue:     queue,
		logger:    logger.With(slog.String("component", "market_stream")),
		sleep:     sleepCtx,
	}
}

// Stats returns connection status counters.
func (s *MarketStream) Stats() Stats {
	return Stats{
		Connected:  s.connected.Load(),
		Subscribed: int(s.subscribed.Load()),
		Reconnects: int(s.reconnects.Load()),
	}
}

// Run connects and streams until ctx is cancelled, reconnecting after every
// disconnect. Failed connections back off exponentially. A connection that
// closed cleanly, or that streamed for at least one ping interval before
// failing, resets the backoff.
func (s *MarketStream) Run(ctx context.Context) error {
	if s.cfg.InsecureSkipVerify {
		s.logger.Warn("market stream TLS verification disabled; do not use in production")
	}

	bo := NewBackoff(s.cfg.ReconnectDelay, s.cfg.MaxReconnectDelay)
	for {
		streamed, err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err == nil || streamed >= s.cfg.PingInterval {
			bo.Reset()
		}
		if err == nil {
			s.logger.Info("market stream closed by peer, reconnecting")
		} else {
			s.logger.Warn("market stream disconnected",
				slog.String("error", err.Error()),
				slog.Duration("streamed", streamed),
			)
		}

		delay := bo.Next()
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
		s.reconnects.Add(1)
	}
}

// runConnection runs one connection to completion and reports how long it
// streamed after subscribing. The error is nil only when the peer closed the
// stream normally.
func (s *MarketStream) runConnection(ctx context.Context) (time.Duration, error) {
	s.logger.Info("connecting to market websocket", slog.String("url", s.cfg.URL))

	conn, err := polymarket.Dial(ctx, polymarket.DialConfig{
		URL:                s.cfg.URL,
		HandshakeTimeout:   s.cfg.HandshakeTimeout,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	})
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	s.connected.Store(true)
	defer s.connected.Store(false)

	subscribed := make(map[string]struct{})
	s.subscribed.Store(0)

	if err := s.initialSubscribe(conn, subscribed); err != nil {
		return 0, err
	}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receiveLoop(gctx, conn) })
	g.Go(func() error { return s.pingLoop(gctx, conn) })
	g.Go(func() error { return s.subscribeLoop(gctx, conn, subscribed) })
	g.Go(func() error {
		// Unblock the receiver once any loop exits.
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	err = g.Wait()
	streamed := time.Since(start)
	if errors.Is(err, errCleanClose) {
		return streamed, nil
	}
	return streamed, err
}

func (s *MarketStream) initialSubscribe(conn *polymarket.Conn, subscribed map[string]struct{}) error {
	ids := s.cache.AssetIDs()
	if len(ids) == 0 {
		s.logger.Info("no asset ids to subscribe yet")
		return nil
	}
	return s.sendSubscribe(conn, ids, subscribed)
}

// sendSubscribe sends ids in chunks and records them as subscribed on this
// connection.
func (s *MarketStream) sendSubscribe(conn *polymarket.Conn, ids []string, subscribed map[string]struct{}) error {
	for start := 0; start < len(ids); start += s.cfg.ChunkSize {
		end := min(start+s.cfg.ChunkSize, len(ids))
		chunk := ids[start:end]
		if err := conn.Subscribe(chunk); err != nil {
			return err
		}
		for _, id := range chunk {
			subscribed[id] = struct{}{}
		}
	}
	s.subscribed.Store(int64(len(subscribed)))
	s.logger.Debug("subscribed asset ids", slog.Int("count", len(ids)))
	return nil
}

func (s *MarketStream) receiveLoop(ctx context.Context, conn *polymarket.Conn) error {
	idle := s.cfg.PingInterval * idlePings
	for {
		data, err := conn.Read(idle)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if polymarket.IsCleanClose(err) {
				return errCleanClose
			}
			return fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err)
		}
		s.handleFrame(ctx, data)
	}
}

func (s *MarketStream) pingLoop(ctx context.Context, conn *polymarket.Conn) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return err
			}
		}
	}
}

func (s *MarketStream) subscribeLoop(ctx context.Context, conn *polymarket.Conn, subscribed map[string]struct{}) error {
	if s.queue == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		batch, err := s.queue.Next(ctx)
		if err != nil {
			return err
		}

		fresh := batch[:0]
		for _, id := range batch {
			if _, ok := subscribed[id]; !ok {
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 0 {
			continue
		}
		if err := s.sendSubscribe(conn, fresh, subscribed); err != nil {
			return err
		}
	}
}

// handleFrame applies every event in a frame to the cache and recomputes the
// touched markets. Malformed frames are dropped.
func (s *MarketStream) handleFrame(ctx context.Context, data []byte) {
	events, err := polymarket.ParseMessage(data)
	if err != nil {
		s.logger.Warn("dropping malformed websocket payload", slog.String("error", err.Error()))
		return
	}

	for _, ev := range events {
		switch ev.Type {
		case polymarket.EventBook:
			if ev.AssetID == "" {
				s.logger.Debug("book event missing asset id")
				continue
			}
			if m, ok := s.cache.ApplyBookSnapshot(ev.AssetID, ev.Bids, ev.Asks); ok {
				s.processor.ProcessMarket(ctx, m)
			}
		case polymarket.EventPriceChange:
			if len(ev.Changes) == 0 {
				continue
			}
			for _, m := range s.cache.ApplyPriceChanges(ev.Changes) {
				s.processor.ProcessMarket(ctx, m)
			}
		case polymarket.EventLastTradePrice:
			attrs := []any{slog.String("market", ev.Market)}
			if ev.Price != nil {
				attrs = append(attrs, slog.Float64("price", *ev.Price))
			}
			s.logger.Debug("trade event", attrs...)
		case polymarket.EventTickSizeChange:
			s.logger.Debug("tick size change", slog.String("asset_id", ev.AssetID))
		default:
			s.logger.Debug("unhandled websocket event", slog.String("type", ev.Type))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
