package feed

import (
	"context"
	"log/slog"
)

// DefaultQueueSize is the subscription queue capacity when none is configured.
const DefaultQueueSize = 10000

// SubscriptionQueue hands newly discovered asset ids from the refresh job to
// the live connection. Producers block when it is full; the consumer takes
// everything pending in one batch.
type SubscriptionQueue struct {
	ch     chan string
	logger *slog.Logger
}

// NewSubscriptionQueue creates a queue holding up to size ids.
func NewSubscriptionQueue(size int, logger *slog.Logger) *SubscriptionQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionQueue{
		ch:     make(chan string, size),
		logger: logger.With(slog.String("component", "subscription_queue")),
	}
}

// Enqueue adds ids in order, waiting for space when the queue is full.
func (q *SubscriptionQueue) Enqueue(ctx context.Context, ids ...string) error {
	warned := false
	for _, id := range ids {
		select {
		case q.ch <- id:
			continue
		default:
		}

		if !warned {
			q.logger.Warn("subscription queue full, waiting", slog.Int("capacity", cap(q.ch)))
			warned = true
		}
		select {
		case q.ch <- id:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Next blocks for at least one id, then drains whatever else is pending
// without blocking. The batch is de-duplicated and keeps arrival order.
func (q *SubscriptionQueue) Next(ctx context.Context) ([]string, error) {
	var first string
	select {
	case first = <-q.ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	seen := map[string]struct{}{first: {}}
	batch := []string{first}
	for {
		select {
		case id := <-q.ch:
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			batch = append(batch, id)
		default:
			return batch, nil
		}
	}
}

// Len returns the number of ids waiting.
func (q *SubscriptionQueue) Len() int {
	return len(q.ch)
}
