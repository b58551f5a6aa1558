// Package balance keeps the live client balance table and stages atomic
// batches of wallet operations against it.
package balance

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

type balanceKey struct {
	clientID string
	assetID  string
}

func sortKeys(keys []balanceKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].clientID != keys[j].clientID {
			return keys[i].clientID < keys[j].clientID
		}
		return keys[i].assetID < keys[j].assetID
	})
}

// BalancesHolder is the live balance table. The business goroutine is the
// only writer; HTTP handlers read through the lock.
type BalancesHolder struct {
	mu       sync.RWMutex
	balances map[balanceKey]model.AssetBalance
	trusted  map[string]struct{}
	logger   *zap.Logger
}

// NewBalancesHolder creates an empty table. Trusted clients may run
// negative balances and are never floor-checked.
func NewBalancesHolder(logger *zap.Logger, trustedClients []string) *BalancesHolder {
	h := &BalancesHolder{
		balances: make(map[balanceKey]model.AssetBalance),
		trusted:  make(map[string]struct{}, len(trustedClients)),
		logger:   logger,
	}
	for _, c := range trustedClients {
		h.trusted[c] = struct{}{}
	}
	return h
}

// IsTrusted reports whether clientID is a trusted client.
func (h *BalancesHolder) IsTrusted(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.trusted[clientID]
	return ok
}

// SetTrusted adds or removes clientID from the trusted set.
func (h *BalancesHolder) SetTrusted(clientID string, trusted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if trusted {
		h.trusted[clientID] = struct{}{}
	} else {
		delete(h.trusted, clientID)
	}
}

// TrustedClients returns the trusted set, sorted.
func (h *BalancesHolder) TrustedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.trusted))
	for c := range h.trusted {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Balance returns the live balance of a client in an asset.
func (h *BalancesHolder) Balance(clientID, assetID string) model.AssetBalance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.get(balanceKey{clientID, assetID})
}

func (h *BalancesHolder) get(k balanceKey) model.AssetBalance {
	if b, ok := h.balances[k]; ok {
		return b
	}
	return model.AssetBalance{ClientID: k.clientID, AssetID: k.assetID}
}

// ClientBalances returns every balance held by clientID, sorted by asset.
func (h *BalancesHolder) ClientBalances(clientID string) []model.AssetBalance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []model.AssetBalance
	for k, b := range h.balances {
		if k.clientID == clientID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Snapshot returns the whole table sorted by client then asset.
func (h *BalancesHolder) Snapshot() []model.AssetBalance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]balanceKey, 0, len(h.balances))
	for k := range h.balances {
		keys = append(keys, k)
	}
	sortKeys(keys)
	out := make([]model.AssetBalance, len(keys))
	for i, k := range keys {
		out[i] = h.balances[k]
	}
	return out
}

// Load replaces the table with persisted balances.
func (h *BalancesHolder) Load(balances []model.AssetBalance) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.balances = make(map[balanceKey]model.AssetBalance, len(balances))
	for _, b := range balances {
		h.balances[balanceKey{b.ClientID, b.AssetID}] = b
	}
}

// NewProcessor opens a WalletOperationsProcessor staging against this table.
func (h *BalancesHolder) NewProcessor() *WalletOperationsProcessor {
	return &WalletOperationsProcessor{
		holder: h,
		logger: h.logger,
		staged: make(map[balanceKey]*stagedBalance),
	}
}

func (h *BalancesHolder) apply(changes []model.AssetBalance) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range changes {
		k := balanceKey{b.ClientID, b.AssetID}
		if b.Balance.IsZero() && b.Reserved.IsZero() {
			delete(h.balances, k)
			continue
		}
		h.balances[k] = b
	}
}

var zero = decimal.Zero
