package orderbook

import (
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// ExpiryEntry identifies a resting GTD order.
type ExpiryEntry struct {
	OrderID     string
	ExternalID  string
	ClientID    string
	AssetPairID string
	ExpiryTime  time.Time
}

func expiryLess(a, b ExpiryEntry) bool {
	if !a.ExpiryTime.Equal(b.ExpiryTime) {
		return a.ExpiryTime.Before(b.ExpiryTime)
	}
	return a.OrderID < b.OrderID
}

// ExpiryOrdersQueue indexes resting orders by expiry time. The business
// goroutine updates it on commit while the expiry scheduler reads it.
type ExpiryOrdersQueue struct {
	mu    sync.Mutex
	byID  map[string]ExpiryEntry
	queue *btree.BTreeG[ExpiryEntry]
}

// NewExpiryOrdersQueue creates an empty queue.
func NewExpiryOrdersQueue() *ExpiryOrdersQueue {
	return &ExpiryOrdersQueue{
		byID:  make(map[string]ExpiryEntry),
		queue: btree.NewBTreeGOptions(expiryLess, btree.Options{NoLocks: true}),
	}
}

// Add registers order when it carries an expiry time.
func (q *ExpiryOrdersQueue) Add(order *model.Order) bool {
	if !order.HasExpiry() {
		return false
	}
	e := ExpiryEntry{
		OrderID:     order.ID,
		ExternalID:  order.ExternalID,
		ClientID:    order.ClientID,
		AssetPairID: order.AssetPairID,
		ExpiryTime:  *order.ExpiryTime,
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if prev, ok := q.byID[e.OrderID]; ok {
		q.queue.Delete(prev)
	}
	q.byID[e.OrderID] = e
	q.queue.Set(e)
	return true
}

// Remove drops an order from the queue.
func (q *ExpiryOrdersQueue) Remove(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[orderID]
	if !ok {
		return false
	}
	delete(q.byID, orderID)
	q.queue.Delete(e)
	return true
}

// Expired returns the entries whose expiry time is not after now, earliest
// first. Entries stay queued until the cancellation commits and removes them.
func (q *ExpiryOrdersQueue) Expired(now time.Time) []ExpiryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []ExpiryEntry
	q.queue.Scan(func(e ExpiryEntry) bool {
		if e.ExpiryTime.After(now) {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

// Len returns the number of queued orders.
func (q *ExpiryOrdersQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}
