package domain

import "context"

// OpportunityStore is the persisted snapshot plus per-market edge history.
type OpportunityStore interface {
	SyncOpportunities(ctx context.Context, opps []Opportunity) error
	UpsertOpportunity(ctx context.Context, opp Opportunity) error
	RemoveOpportunity(ctx context.Context, marketID string) error
	History(ctx context.Context, marketID string, limit int, order HistoryOrder) ([]HistoryPoint, error)
	Snapshot(ctx context.Context) ([]Opportunity, error)
}

// UpdateArchive persists broadcast updates for later inspection.
type UpdateArchive interface {
	Insert(ctx context.Context, u ArchivedUpdate) error
	ListByMarket(ctx context.Context, marketID string, limit int) ([]ArchivedUpdate, error)
}
