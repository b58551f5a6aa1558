package process

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/numeric"
)

// CashInOut stages a deposit (positive amount) or withdrawal (negative).
// A withdrawal may not touch reserved funds.
func CashInOut(ec *execution.Context, clientID, assetID string, amount decimal.Decimal) error {
	asset, ok := ec.Asset(assetID)
	if !ok {
		return fmt.Errorf("cash in/out: unknown asset %s", assetID)
	}
	if asset.Disabled {
		return fmt.Errorf("cash in/out: asset %s is disabled", assetID)
	}
	if !numeric.CheckAccuracy(amount, asset.Accuracy) {
		return fmt.Errorf("cash in/out: amount %s exceeds accuracy %d", amount, asset.Accuracy)
	}
	if amount.IsNegative() && !ec.IsTrusted(clientID) {
		if available := ec.Wallet().AvailableBalance(clientID, assetID, decimal.Zero); available.LessThan(amount.Neg()) {
			return fmt.Errorf("cash in/out: available %s below withdrawal %s", available, amount.Neg())
		}
	}
	op := model.NewWalletOperation(clientID, assetID, amount)
	if err := ec.Wallet().PreProcess([]model.WalletOperation{op}, false); err != nil {
		return fmt.Errorf("cash in/out: %w", err)
	}
	return nil
}
