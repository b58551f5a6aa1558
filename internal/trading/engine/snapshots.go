package engine

import (
	"sort"
	"sync/atomic"

	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
)

// SnapshotStore publishes immutable book snapshots to readers outside the
// business goroutine. Each update swaps in a new map.
type SnapshotStore struct {
	books atomic.Pointer[map[string]*orderbook.Snapshot]
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	s := &SnapshotStore{}
	empty := map[string]*orderbook.Snapshot{}
	s.books.Store(&empty)
	return s
}

// Update implements execution.SnapshotSink. Only the business goroutine
// calls it.
func (s *SnapshotStore) Update(snaps []*orderbook.Snapshot) {
	cur := *s.books.Load()
	next := make(map[string]*orderbook.Snapshot, len(cur)+len(snaps))
	for k, v := range cur {
		next[k] = v
	}
	for _, snap := range snaps {
		next[snap.AssetPairID] = snap
	}
	s.books.Store(&next)
}

// Book returns the latest snapshot of a pair.
func (s *SnapshotStore) Book(assetPairID string) (*orderbook.Snapshot, bool) {
	snap, ok := (*s.books.Load())[assetPairID]
	return snap, ok
}

// Pairs returns the pairs with a snapshot, sorted.
func (s *SnapshotStore) Pairs() []string {
	m := *s.books.Load()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
