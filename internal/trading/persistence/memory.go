package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Aidin1998/pincex_matching/internal/trading/balance"
	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
)

// MemoryPersister keeps the persisted state in maps. Used in tests and
// when no storage path is configured.
type MemoryPersister struct {
	mu        sync.Mutex
	seq       uint64
	balances  map[string]model.AssetBalance
	books     map[string]execution.BookState
	stopBooks map[string]execution.BookState
	processed map[string]struct{}
	writes    int

	// FailWith, when set, is returned by Persist without writing.
	FailWith error
}

// NewMemoryPersister creates an empty store.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{
		balances:  make(map[string]model.AssetBalance),
		books:     make(map[string]execution.BookState),
		stopBooks: make(map[string]execution.BookState),
		processed: make(map[string]struct{}),
	}
}

// Persist implements execution.Persister.
func (p *MemoryPersister) Persist(ctx context.Context, data *execution.PersistenceData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return p.FailWith
	}
	if pm := data.ProcessedMessage; pm != nil {
		if _, ok := p.processed[pm.MessageID]; ok {
			return ErrAlreadyProcessed
		}
	}
	if data.SequenceNumber > 0 {
		if data.SequenceNumber <= p.seq {
			return fmt.Errorf("%w: %d <= %d", ErrStaleSequence, data.SequenceNumber, p.seq)
		}
		p.seq = data.SequenceNumber
	}
	for _, b := range data.Balances {
		p.balances[b.ClientID+":"+b.AssetID] = b
	}
	putBooks(p.books, data.OrderBooks)
	putBooks(p.stopBooks, data.StopOrderBooks)
	if data.ProcessedMessage != nil {
		p.processed[data.ProcessedMessage.MessageID] = struct{}{}
	}
	p.writes++
	return nil
}

func putBooks(dst map[string]execution.BookState, books []execution.BookState) {
	for _, b := range books {
		if len(b.Orders) == 0 {
			delete(dst, b.AssetPairID)
			continue
		}
		dst[b.AssetPairID] = b
	}
}

// Load returns a copy of the stored state.
func (p *MemoryPersister) Load(context.Context) (*State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := &State{SequenceNumber: p.seq}
	for _, b := range p.balances {
		st.Balances = append(st.Balances, b)
	}
	sort.Slice(st.Balances, func(i, j int) bool {
		a, b := st.Balances[i], st.Balances[j]
		if a.ClientID != b.ClientID {
			return a.ClientID < b.ClientID
		}
		return a.AssetID < b.AssetID
	})
	st.OrderBooks = sortedBooks(p.books)
	st.StopOrderBooks = sortedBooks(p.stopBooks)
	return st, nil
}

func sortedBooks(m map[string]execution.BookState) []execution.BookState {
	out := make([]execution.BookState, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetPairID < out[j].AssetPairID })
	return out
}

// IsProcessed reports whether a message id was persisted.
func (p *MemoryPersister) IsProcessed(_ context.Context, messageID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.processed[messageID]
	return ok, nil
}

// MarkProcessed records a message id.
func (p *MemoryPersister) MarkProcessed(_ context.Context, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed[messageID] = struct{}{}
	return nil
}

// Writes returns the number of successful Persist calls.
func (p *MemoryPersister) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Restore installs st into the live holders. Resting orders with an expiry
// are queued again.
func (st *State) Restore(
	balances *balance.BalancesHolder,
	books *orderbook.OrderBooksHolder,
	stopBooks *orderbook.StopOrderBooksHolder,
	expiry *orderbook.ExpiryOrdersQueue,
) {
	balances.Load(st.Balances)
	for _, bs := range st.OrderBooks {
		b := orderbook.NewAssetOrderBook(bs.AssetPairID)
		for _, o := range bs.Orders {
			b.AddOrder(o)
			expiry.Add(o)
		}
		books.SetBook(b)
	}
	for _, bs := range st.StopOrderBooks {
		b := orderbook.NewStopOrderBook(bs.AssetPairID)
		for _, o := range bs.Orders {
			b.AddOrder(o)
			expiry.Add(o)
		}
		stopBooks.SetBook(b)
	}
}
