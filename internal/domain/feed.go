package domain

// Side is the order side reported on a price change.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// BookLevel is one price level of an order-book snapshot. Size is nil when
// the feed omitted it.
type BookLevel struct {
	Price float64
	Size  *float64
}

// PriceChange is a best-bid/best-ask delta for one asset. Nil fields were not
// present on the wire.
type PriceChange struct {
	AssetID string
	Side    Side
	BestBid *float64
	BestAsk *float64
	Size    *float64
}
