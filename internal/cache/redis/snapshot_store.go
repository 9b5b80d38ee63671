package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key and channel the store touches.
const DefaultKeyPrefix = "ops"

// StoreConfig configures a SnapshotStore.
type StoreConfig struct {
	KeyPrefix string
	// HistoryCap is the number of points kept per market. Zero or negative
	// disables trimming.
	HistoryCap int
}

// SnapshotStore persists the current opportunity set as one JSON array and a
// capped edge history per market, and publishes every change on the updates
// channel.
//
// Every read goes to Redis. Writes run as WATCH/MULTI transactions on the
// snapshot key so concurrent writers in other processes are never
// overwritten with a stale set; mu additionally orders this process's writes
// with their publishes.
type SnapshotStore struct {
	rdb    *redis.Client
	bus    *SignalBus
	cfg    StoreConfig
	logger *slog.Logger

	mu sync.Mutex
}

// maxWatchRetries bounds how often a write is retried after another client
// changed the snapshot between read and commit.
const maxWatchRetries = 16

// ErrSnapshotContention is returned when a write kept losing the optimistic
// transaction race.
var ErrSnapshotContention = errors.New("redis: snapshot write contention")

// NewSnapshotStore creates a SnapshotStore.
func NewSnapshotStore(c *Client, cfg StoreConfig, logger *slog.Logger) *SnapshotStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{
		rdb:    c.Underlying(),
		bus:    NewSignalBus(c),
		cfg:    cfg,
		logger: logger.With(slog.String("component", "snapshot_store")),
	}
}

// SnapshotKey returns the key holding the serialized opportunity array.
func (s *SnapshotStore) SnapshotKey() string { return s.cfg.KeyPrefix + ":snapshot" }

// UpdatesChannel returns the pub/sub channel carrying OpportunityUpdate JSON.
func (s *SnapshotStore) UpdatesChannel() string { return s.cfg.KeyPrefix + ":updates" }

// HistoryKey returns the sorted-set key for a market's edge history.
func (s *SnapshotStore) HistoryKey(marketID string) string {
	return s.cfg.KeyPrefix + ":history:" + marketID
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// load reads and decodes the snapshot keyed by market id. A missing key is an
// empty set; a corrupt blob is logged and treated as empty.
func (s *SnapshotStore) load(ctx context.Context, c stringGetter) (map[string]json.RawMessage, error) {
	snap := make(map[string]json.RawMessage)

	data, err := c.Get(ctx, s.SnapshotKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: snapshot get: %w", err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.Warn("corrupt snapshot, treating as empty", slog.String("error", err.Error()))
		return snap, nil
	}
	for _, item := range items {
		var head struct {
			MarketID string `json:"marketId"`
		}
		if err := json.Unmarshal(item, &head); err != nil || head.MarketID == "" {
			continue
		}
		snap[head.MarketID] = item
	}
	return snap, nil
}

func encodeSnapshot(snap map[string]json.RawMessage) ([]byte, error) {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		items = append(items, snap[id])
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("redis: snapshot encode: %w", err)
	}
	return payload, nil
}

// mutate reads the current snapshot, lets change derive the next one and
// commits it only if no other client touched the key in between, retrying
// otherwise. change may run more than once and must not have side effects;
// returning nil leaves the snapshot untouched.
func (s *SnapshotStore) mutate(ctx context.Context, change func(current map[string]json.RawMessage) map[string]json.RawMessage) error {
	key := s.SnapshotKey()
	txf := func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		next := change(current)
		if next == nil {
			return nil
		}
		payload, err := encodeSnapshot(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis: snapshot set: %w", err)
		}
		return nil
	}
	return ErrSnapshotContention
}

// SyncOpportunities reconciles the stored snapshot with the full desired set.
// Repeated market ids keep the last entry. Upserts are staged only for
// opportunities whose serialized form changed and removes for markets that
// disappeared. The snapshot is written in one transaction, the staged updates
// are published, then every surviving opportunity gets a history point.
func (s *SnapshotStore) SyncOpportunities(ctx context.Context, opps []domain.Opportunity) error {
	var (
		order  []string
		latest = make(map[string]domain.Opportunity, len(opps))
		next   = make(map[string]json.RawMessage, len(opps))
	)
	for _, opp := range opps {
		raw, err := opp.Serialize()
		if err != nil {
			s.logger.Warn("skip unserializable opportunity",
				slog.String("market_id", opp.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, seen := latest[opp.MarketID]; !seen {
			order = append(order, opp.MarketID)
		}
		latest[opp.MarketID] = opp
		next[opp.MarketID] = raw
	}

	s.mu.Lock()
	var updates []domain.OpportunityUpdate
	err := s.mutate(ctx, func(current map[string]json.RawMessage) map[string]json.RawMessage {
		updates = updates[:0]
		for _, id := range order {
			if prev, ok := current[id]; !ok || string(prev) != string(next[id]) {
				updates = append(updates, domain.NewUpsert(latest[id]))
			}
		}
		var gone []string
		for id := range current {
			if _, ok := next[id]; !ok {
				gone = append(gone, id)
			}
		}
		sort.Strings(gone)
		for _, id := range gone {
			updates = append(updates, domain.NewRemove(id))
		}
		return next
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	pubErr := s.PublishUpdates(ctx, updates)
	s.mu.Unlock()

	errs := []error{pubErr}
	s.logger.Info("snapshot synchronized",
		slog.Int("opportunities", len(order)),
		slog.Int("updates", len(updates)),
	)

	for _, id := range order {
		opp := latest[id]
		if err := s.AppendHistory(ctx, opp.MarketID, opp.UpdatedAt, opp.Edge); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UpsertOpportunity stores a single opportunity. Nothing happens when the
// stored serialization is identical; otherwise the snapshot is rewritten, an
// upsert is published and a history point appended.
func (s *SnapshotStore) UpsertOpportunity(ctx context.Context, opp domain.Opportunity) error {
	raw, err := opp.Serialize()
	if err != nil {
		return fmt.Errorf("redis: serialize %s: %w", opp.MarketID, err)
	}

	s.mu.Lock()
	var changed bool
	err = s.mutate(ctx, func(current map[string]json.RawMessage) map[string]json.RawMessage {
		changed = false
		if prev, ok := current[opp.MarketID]; ok && string(prev) == string(raw) {
			return nil
		}
		changed = true
		current[opp.MarketID] = raw
		return current
	})
	if err != nil || !changed {
		s.mu.Unlock()
		return err
	}
	pubErr := s.PublishUpdates(ctx, []domain.OpportunityUpdate{domain.NewUpsert(opp)})
	s.mu.Unlock()

	histErr := s.AppendHistory(ctx, opp.MarketID, opp.UpdatedAt, opp.Edge)
	return errors.Join(pubErr, histErr)
}

// RemoveOpportunity drops a market from the snapshot and publishes a remove.
// Absent markets are a no-op. No history point is written.
func (s *SnapshotStore) RemoveOpportunity(ctx context.Context, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed bool
	err := s.mutate(ctx, func(current map[string]json.RawMessage) map[string]json.RawMessage {
		_, changed = current[marketID]
		if !changed {
			return nil
		}
		delete(current, marketID)
		return current
	})
	if err != nil || !changed {
		return err
	}
	return s.PublishUpdates(ctx, []domain.OpportunityUpdate{domain.NewRemove(marketID)})
}

// PublishUpdates publishes each update as its own message. A failed publish
// does not stop the rest.
func (s *SnapshotStore) PublishUpdates(ctx context.Context, updates []domain.OpportunityUpdate) error {
	var errs []error
	for _, u := range updates {
		payload, err := json.Marshal(u)
		if err != nil {
			errs = append(errs, fmt.Errorf("redis: encode update %s: %w", u.MarketID, err))
			continue
		}
		if err := s.bus.Publish(ctx, s.UpdatesChannel(), payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type historyMember struct {
	Edge      float64   `json:"edge"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AppendHistory adds a point to the market's series and trims the oldest
// entries beyond the cap in the same transaction.
func (s *SnapshotStore) AppendHistory(ctx context.Context, marketID string, ts time.Time, edge float64) error {
	member, err := json.Marshal(historyMember{Edge: edge, UpdatedAt: ts.UTC()})
	if err != nil {
		return fmt.Errorf("redis: encode history %s: %w", marketID, err)
	}

	key := s.HistoryKey(marketID)
	score := float64(ts.UnixNano()) / float64(time.Second)

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	if s.cfg.HistoryCap > 0 {
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-s.cfg.HistoryCap-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append history %s: %w", marketID, err)
	}
	return nil
}

// History returns up to limit points for a market. limit <= 0 yields an empty
// result. Malformed entries are skipped.
func (s *SnapshotStore) History(ctx context.Context, marketID string, limit int, order domain.HistoryOrder) ([]domain.HistoryPoint, error) {
	if limit <= 0 {
		return []domain.HistoryPoint{}, nil
	}

	key := s.HistoryKey(marketID)
	stop := int64(limit - 1)

	var (
		entries []string
		err     error
	)
	if order == domain.OrderDesc {
		entries, err = s.rdb.ZRevRange(ctx, key, 0, stop).Result()
	} else {
		entries, err = s.rdb.ZRange(ctx, key, 0, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis: history %s: %w", marketID, err)
	}

	points := make([]domain.HistoryPoint, 0, len(entries))
	for _, e := range entries {
		var m historyMember
		if err := json.Unmarshal([]byte(e), &m); err != nil {
			s.logger.Warn("malformed history entry", slog.String("market_id", marketID))
			continue
		}
		points = append(points, domain.HistoryPoint{Edge: m.Edge, UpdatedAt: m.UpdatedAt})
	}
	return points, nil
}

// Snapshot reads the current opportunity set from Redis, ordered by market
// id.
func (s *SnapshotStore) Snapshot(ctx context.Context) ([]domain.Opportunity, error) {
	current, err := s.load(ctx, s.rdb)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Opportunity, 0, len(current))
	for _, raw := range current {
		var opp domain.Opportunity
		if err := json.Unmarshal(raw, &opp); err != nil {
			s.logger.Warn("skip undecodable snapshot item", slog.String("error", err.Error()))
			continue
		}
		out = append(out, opp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

var _ domain.OpportunityStore = (*SnapshotStore)(nil)
