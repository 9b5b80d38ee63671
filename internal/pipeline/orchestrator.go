package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the background loops: market refresh, update recording
// and snapshot export. Recorder and exporter are optional.
type Orchestrator struct {
	refresher *MarketRefresher
	recorder  *UpdateRecorder
	exporter  *SnapshotExporter
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. recorder and exporter may be nil.
func NewOrchestrator(refresher *MarketRefresher, recorder *UpdateRecorder, exporter *SnapshotExporter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		refresher: refresher,
		recorder:  recorder,
		exporter:  exporter,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every configured loop and blocks until ctx is done or one loop
// fails. Cancellation is a clean stop and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("refresh_interval", o.refresher.Interval()),
		slog.Bool("recorder", o.recorder != nil),
		slog.Bool("exporter", o.exporter != nil),
	)

	g, ctx := errgroup.WithContext(ctx)
	start := func(name string, run func(context.Context) error) {
		g.Go(func() error {
			err := run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", name, err)
		})
	}

	start("market refresher", o.refresher.RunLoop)
	if o.recorder != nil {
		start("update recorder", o.recorder.Run)
	}
	if o.exporter != nil {
		start("snapshot exporter", o.exporter.RunLoop)
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
