package balance

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// BalanceError rejects a batch of wallet operations.
type BalanceError struct {
	ClientID string
	AssetID  string
	Balance  decimal.Decimal
	Reserved decimal.Decimal
	Reason   string
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("invalid balance for client %s asset %s: %s (balance %s, reserved %s)",
		e.ClientID, e.AssetID, e.Reason, e.Balance, e.Reserved)
}

type stagedBalance struct {
	old model.AssetBalance
	cur model.AssetBalance
}

// WalletOperationsProcessor stages wallet operations for one execution
// context. Each PreProcess call is validated as a whole; Apply commits all
// staged batches to the live table.
type WalletOperationsProcessor struct {
	holder *BalancesHolder
	logger *zap.Logger
	staged map[balanceKey]*stagedBalance
	order  []balanceKey
}

func (p *WalletOperationsProcessor) current(k balanceKey) model.AssetBalance {
	if s, ok := p.staged[k]; ok {
		return s.cur
	}
	return p.holder.Balance(k.clientID, k.assetID)
}

// PreProcess validates and stages a batch. On error nothing from the batch
// is staged. allowInvalidBalance skips the floor checks, which is how
// releases of reserved funds are staged.
func (p *WalletOperationsProcessor) PreProcess(ops []model.WalletOperation, allowInvalidBalance bool) error {
	if len(ops) == 0 {
		return nil
	}
	next := make(map[balanceKey]model.AssetBalance)
	var keys []balanceKey
	for _, op := range ops {
		k := balanceKey{op.ClientID, op.AssetID}
		b, ok := next[k]
		if !ok {
			b = p.current(k)
			keys = append(keys, k)
		}
		b.Balance = b.Balance.Add(op.BalanceDelta)
		b.Reserved = b.Reserved.Add(op.ReservedBalanceDelta)
		next[k] = b
	}

	for _, k := range keys {
		b := next[k]
		if b.Reserved.IsNegative() {
			p.logger.Warn("reserved balance would be negative, clamping to zero",
				zap.String("client_id", k.clientID),
				zap.String("asset_id", k.assetID),
				zap.String("reserved", b.Reserved.String()))
			b.Reserved = zero
			next[k] = b
		}
		if allowInvalidBalance || p.holder.IsTrusted(k.clientID) {
			continue
		}
		if err := validate(p.current(k), b); err != nil {
			return err
		}
	}

	for _, k := range keys {
		s, ok := p.staged[k]
		if !ok {
			s = &stagedBalance{old: p.holder.Balance(k.clientID, k.assetID)}
			p.staged[k] = s
			p.order = append(p.order, k)
		}
		s.cur = next[k]
	}
	return nil
}

// validate rejects a new state that is invalid unless the old state was
// already at least as bad, so a client with a pre-existing deficit can
// still reduce it.
func validate(old, b model.AssetBalance) error {
	if b.Balance.IsNegative() && b.Balance.LessThan(old.Balance) {
		return &BalanceError{ClientID: b.ClientID, AssetID: b.AssetID, Balance: b.Balance, Reserved: b.Reserved, Reason: "negative balance"}
	}
	if b.Reserved.GreaterThan(b.Balance) && b.Available().LessThan(old.Available()) {
		return &BalanceError{ClientID: b.ClientID, AssetID: b.AssetID, Balance: b.Balance, Reserved: b.Reserved, Reason: "reserved exceeds balance"}
	}
	return nil
}

// AvailableBalance returns balance - reserved + extraPayback as seen by the
// staged state.
func (p *WalletOperationsProcessor) AvailableBalance(clientID, assetID string, extraPayback decimal.Decimal) decimal.Decimal {
	return p.current(balanceKey{clientID, assetID}).Available().Add(extraPayback)
}

// Balance returns the staged balance of a client in an asset.
func (p *WalletOperationsProcessor) Balance(clientID, assetID string) model.AssetBalance {
	return p.current(balanceKey{clientID, assetID})
}

// IsTrusted reports whether clientID bypasses balance checks.
func (p *WalletOperationsProcessor) IsTrusted(clientID string) bool {
	return p.holder.IsTrusted(clientID)
}

// ChangedBalances returns the staged state of every touched balance in
// staging order.
func (p *WalletOperationsProcessor) ChangedBalances() []model.AssetBalance {
	out := make([]model.AssetBalance, len(p.order))
	for i, k := range p.order {
		out[i] = p.staged[k].cur
	}
	return out
}

// Updates returns the old and new state of every balance that changed.
func (p *WalletOperationsProcessor) Updates() []model.BalanceUpdate {
	var out []model.BalanceUpdate
	for _, k := range p.order {
		s := p.staged[k]
		if s.old.Balance.Equal(s.cur.Balance) && s.old.Reserved.Equal(s.cur.Reserved) {
			continue
		}
		out = append(out, model.BalanceUpdate{
			ClientID:    k.clientID,
			AssetID:     k.assetID,
			OldBalance:  s.old.Balance,
			NewBalance:  s.cur.Balance,
			OldReserved: s.old.Reserved,
			NewReserved: s.cur.Reserved,
		})
	}
	return out
}

// Apply commits every staged batch to the live table and returns the
// resulting updates.
func (p *WalletOperationsProcessor) Apply() []model.BalanceUpdate {
	updates := p.Updates()
	p.holder.apply(p.ChangedBalances())
	return updates
}
