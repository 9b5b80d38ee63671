package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

// OpportunityAlerter sends an alert for a surfaced opportunity.
type OpportunityAlerter interface {
	NotifyOpportunity(ctx context.Context, o domain.Opportunity) error
}

// RecorderConfig controls an UpdateRecorder.
type RecorderConfig struct {
	Channel string
	// NotifyMinEdge gates alerts; upserts below it are archived only.
	NotifyMinEdge float64
}

// UpdateRecorder consumes the updates channel, archiving every update and
// alerting on large upserts.
type UpdateRecorder struct {
	bus     domain.SignalBus
	archive domain.UpdateArchive
	alerter OpportunityAlerter
	cfg     RecorderConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewUpdateRecorder creates an UpdateRecorder. archive and alerter may be nil.
func NewUpdateRecorder(
	bus domain.SignalBus,
	archive domain.UpdateArchive,
	alerter OpportunityAlerter,
	cfg RecorderConfig,
	logger *slog.Logger,
) *UpdateRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateRecorder{
		bus:     bus,
		archive: archive,
		alerter: alerter,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "update_recorder")),
	}
}

var errSubscriptionClosed = errors.New("pipeline: update subscription closed")

// Run subscribes to the updates channel and records until ctx is done.
func (r *UpdateRecorder) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, r.cfg.Channel)
	if err != nil {
		return err
	}
	r.logger.Info("update recorder started", slog.String("channel", r.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errSubscriptionClosed
			}
			r.Handle(ctx, raw)
		}
	}
}

// Handle records one raw update payload. Malformed payloads are dropped.
func (r *UpdateRecorder) Handle(ctx context.Context, raw []byte) {
	var u domain.OpportunityUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		r.logger.Warn("dropping malformed update", slog.String("error", err.Error()))
		return
	}
	if err := u.Validate(); err != nil {
		r.logger.Warn("dropping invalid update", slog.String("error", err.Error()))
		return
	}

	if r.archive != nil {
		if err := r.archive.Insert(ctx, archived(u, uuid.NewString(), r.now())); err != nil {
			r.logger.Error("archive update failed",
				slog.String("market_id", u.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.alerter == nil || u.Type != domain.UpdateUpsert || u.Opportunity.Edge < r.cfg.NotifyMinEdge {
		return
	}
	if err := r.alerter.NotifyOpportunity(ctx, *u.Opportunity); err != nil {
		r.logger.Warn("opportunity alert failed",
			slog.String("market_id", u.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func archived(u domain.OpportunityUpdate, id string, at time.Time) domain.ArchivedUpdate {
	a := domain.ArchivedUpdate{
		ID:         id,
		Type:       u.Type,
		MarketID:   u.MarketID,
		ReceivedAt: at.UTC(),
	}
	if o := u.Opportunity; o != nil {
		a.Edge = domain.Ptr(o.Edge)
		a.SumPrices = domain.Ptr(o.SumPrices)
		a.Liquidity = domain.Float(o.Liquidity)
	}
	return a
}
