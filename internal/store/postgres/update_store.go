package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

const maxListLimit = 1000

// UpdateStore implements domain.UpdateArchive on the opportunity_updates table.
type UpdateStore struct {
	pool *pgxpool.Pool
}

// NewUpdateStore creates an UpdateStore backed by the given connection pool.
func NewUpdateStore(pool *pgxpool.Pool) *UpdateStore {
	return &UpdateStore{pool: pool}
}

// Insert appends an archived update. Re-inserting an id is a no-op.
func (s *UpdateStore) Insert(ctx context.Context, u domain.ArchivedUpdate) error {
	const query = `
		INSERT INTO opportunity_updates (id, update_type, market_id, edge, sum_prices, liquidity, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		u.ID, string(u.Type), u.MarketID, u.Edge, u.SumPrices, u.Liquidity, u.ReceivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert update %s: %w", u.MarketID, err)
	}
	return nil
}

// ListByMarket returns the newest updates for marketID, newest first. limit
// is clamped to 1..1000.
func (s *UpdateStore) ListByMarket(ctx context.Context, marketID string, limit int) ([]domain.ArchivedUpdate, error) {
	limit = clampLimit(limit)
	const query = `
		SELECT id::text, update_type, market_id, edge, sum_prices, liquidity, received_at
		FROM opportunity_updates
		WHERE market_id = $1
		ORDER BY received_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list updates %s: %w", marketID, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ArchivedUpdate, error) {
		var u domain.ArchivedUpdate
		var typ string
		err := row.Scan(&u.ID, &typ, &u.MarketID, &u.Edge, &u.SumPrices, &u.Liquidity, &u.ReceivedAt)
		u.Type = domain.UpdateType(typ)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan updates %s: %w", marketID, err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit < 1:
		return 1
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

var _ domain.UpdateArchive = (*UpdateStore)(nil)
