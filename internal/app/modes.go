package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/feed"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/pipeline"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/platform/polymarket"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/server"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/server/handler"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// FullMode runs ingestion and the HTTP API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	stream := a.startIngestion(ctx, g, deps)
	if a.cfg.RunsServer() {
		a.startHTTPServer(ctx, g, deps, stream)
	}
	return g.Wait()
}

// IngestMode polls and streams markets and maintains the snapshot without
// serving HTTP.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startIngestion(ctx, g, deps)
	return g.Wait()
}

// ServerMode serves the API from the shared Redis snapshot written by an
// ingest process elsewhere.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// startIngestion adds the market stream and the pipeline orchestrator to g.
// It returns the stream, or nil when streaming is disabled.
func (a *App) startIngestion(ctx context.Context, g *errgroup.Group, deps *Dependencies) *feed.MarketStream {
	pm := a.cfg.Polymarket
	timeout := pm.RequestTimeout.Duration

	queue := feed.NewSubscriptionQueue(a.cfg.Stream.QueueSize, a.logger)

	var stream *feed.MarketStream
	var subs pipeline.AssetSubscriber
	if a.cfg.Stream.Enabled {
		stream = feed.NewMarketStream(feed.Config{
			URL:                pm.WsURL,
			PingInterval:       a.cfg.Stream.PingInterval.Duration,
			ChunkSize:          a.cfg.Stream.SubscribeChunkSize,
			ReconnectDelay:     a.cfg.Stream.ReconnectDelay.Duration,
			InsecureSkipVerify: !a.cfg.Stream.VerifyTLS,
		}, deps.Markets, deps.Opportunities, queue, a.logger)
		subs = queue

		g.Go(func() error {
			err := stream.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("market stream: %w", err)
		})
	} else {
		a.logger.InfoContext(ctx, "market stream disabled; snapshot follows REST polling only")
	}

	var resolver pipeline.TokenResolver
	if pm.EnrichTokens {
		resolver = polymarket.NewClobClient(pm.ClobHost, timeout, a.logger)
	}

	var locks = deps.LockManager
	if !a.cfg.Refresh.LeaderLock {
		locks = nil
	}

	refresher := pipeline.NewMarketRefresher(
		polymarket.NewGammaClient(pm.GammaURL, timeout),
		resolver,
		deps.Markets,
		subs,
		deps.Opportunities,
		locks,
		pipeline.RefresherConfig{
			Limit:    pm.GammaLimit,
			Interval: a.cfg.Refresh.Interval.Duration,
		},
		a.logger,
	)

	var recorder *pipeline.UpdateRecorder
	if deps.Archive != nil || deps.Notifier.Enabled() {
		var alerter pipeline.OpportunityAlerter
		if deps.Notifier.Enabled() {
			alerter = deps.Notifier
		}
		recorder = pipeline.NewUpdateRecorder(deps.SignalBus, deps.Archive, alerter, pipeline.RecorderConfig{
			Channel:       deps.Snapshots.UpdatesChannel(),
			NotifyMinEdge: a.cfg.Notify.MinEdge,
		}, a.logger)
	}

	var exporter *pipeline.SnapshotExporter
	if deps.BlobWriter != nil {
		exporter = pipeline.NewSnapshotExporter(
			deps.Snapshots, deps.BlobWriter, a.cfg.S3.Prefix, a.cfg.S3.ExportInterval.Duration, a.logger,
		)
	}

	orch := pipeline.NewOrchestrator(refresher, recorder, exporter, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return stream
}

// startHTTPServer adds the API server and the websocket hub to g. The server
// is shut down gracefully when ctx is cancelled. stream may be nil.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, stream *feed.MarketStream) {
	channel := deps.Snapshots.UpdatesChannel()

	handlers := server.Handlers{
		Opportunities: handler.NewOpportunityHandler(deps.Opportunities, deps.Engine.Thresholds(), a.logger),
		Stream:        handler.NewStreamHandler(deps.SignalBus, channel, a.logger),
	}
	var markets handler.MarketCounter
	var status handler.StreamStatus
	if a.cfg.RunsIngestion() {
		markets = deps.Markets
		handlers.Markets = handler.NewMarketHandler(deps.Markets, a.logger)
	}
	if stream != nil {
		status = stream
	}
	handlers.Health = handler.NewHealthHandler(a.cfg.Mode, markets, status)
	if deps.Archive != nil {
		handlers.Updates = handler.NewUpdatesHandler(deps.Archive, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, channel, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("ws hub: %w", err)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
