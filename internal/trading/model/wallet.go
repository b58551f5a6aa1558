package model

import "github.com/shopspring/decimal"

// WalletOperation is one balance change. A batch of operations commits
// together or not at all.
type WalletOperation struct {
	ClientID             string          `json:"client_id"`
	AssetID              string          `json:"asset_id"`
	BalanceDelta         decimal.Decimal `json:"balance_delta"`
	ReservedBalanceDelta decimal.Decimal `json:"reserved_balance_delta"`
}

// NewWalletOperation builds an operation changing only the balance.
func NewWalletOperation(clientID, assetID string, delta decimal.Decimal) WalletOperation {
	return WalletOperation{ClientID: clientID, AssetID: assetID, BalanceDelta: delta}
}

// NewReservationOperation builds an operation changing only the reserved balance.
func NewReservationOperation(clientID, assetID string, reservedDelta decimal.Decimal) WalletOperation {
	return WalletOperation{ClientID: clientID, AssetID: assetID, ReservedBalanceDelta: reservedDelta}
}

// AssetBalance is the live balance of one client in one asset.
type AssetBalance struct {
	ClientID string          `json:"client_id"`
	AssetID  string          `json:"asset_id"`
	Balance  decimal.Decimal `json:"balance"`
	Reserved decimal.Decimal `json:"reserved"`
}

// Available returns Balance - Reserved.
func (b AssetBalance) Available() decimal.Decimal {
	return b.Balance.Sub(b.Reserved)
}

// BalanceUpdate describes the effect of a committed batch on one balance.
type BalanceUpdate struct {
	ClientID    string          `json:"client_id"`
	AssetID     string          `json:"asset_id"`
	OldBalance  decimal.Decimal `json:"old_balance"`
	NewBalance  decimal.Decimal `json:"new_balance"`
	OldReserved decimal.Decimal `json:"old_reserved"`
	NewReserved decimal.Decimal `json:"new_reserved"`
}
