package balance

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newHolder(trusted ...string) *BalancesHolder {
	h := NewBalancesHolder(zap.NewNop(), trusted)
	h.Load([]model.AssetBalance{
		{ClientID: "c1", AssetID: "USD", Balance: d("100"), Reserved: d("20")},
		{ClientID: "c2", AssetID: "EUR", Balance: d("50")},
	})
	return h
}

func TestPreProcess_StagesWithoutTouchingLive(t *testing.T) {
	h := newHolder()
	p := h.NewProcessor()

	err := p.PreProcess([]model.WalletOperation{
		model.NewWalletOperation("c1", "USD", d("-30")),
		model.NewReservationOperation("c1", "USD", d("10")),
	}, false)
	require.NoError(t, err)

	assert.True(t, p.AvailableBalance("c1", "USD", decimal.Zero).Equal(d("40")))
	assert.True(t, p.AvailableBalance("c1", "USD", d("5")).Equal(d("45")))
	assert.True(t, h.Balance("c1", "USD").Balance.Equal(d("100")), "live table untouched")

	updates := p.Apply()
	require.Len(t, updates, 1)
	assert.True(t, updates[0].NewBalance.Equal(d("70")))
	assert.True(t, updates[0].NewReserved.Equal(d("30")))
	assert.True(t, h.Balance("c1", "USD").Reserved.Equal(d("30")))
}

func TestPreProcess_RejectsWholeBatch(t *testing.T) {
	h := newHolder()
	p := h.NewProcessor()

	err := p.PreProcess([]model.WalletOperation{
		model.NewWalletOperation("c2", "EUR", d("10")),
		model.NewReservationOperation("c1", "USD", d("81")),
	}, false)
	var balanceErr *BalanceError
	require.True(t, errors.As(err, &balanceErr))
	assert.Equal(t, "c1", balanceErr.ClientID)

	assert.Empty(t, p.ChangedBalances(), "failed batch stages nothing")
	assert.True(t, p.Balance("c2", "EUR").Balance.Equal(d("50")))
}

func TestPreProcess_NegativeBalanceRejected(t *testing.T) {
	p := newHolder().NewProcessor()
	err := p.PreProcess([]model.WalletOperation{model.NewWalletOperation("c2", "EUR", d("-51"))}, false)
	assert.Error(t, err)
}

func TestPreProcess_TrustedBypassesFloor(t *testing.T) {
	h := newHolder("mm")
	p := h.NewProcessor()
	require.NoError(t, p.PreProcess([]model.WalletOperation{model.NewWalletOperation("mm", "EUR", d("-1000"))}, false))
	p.Apply()
	assert.True(t, h.Balance("mm", "EUR").Balance.Equal(d("-1000")))
}

func TestPreProcess_AllowInvalidBalance(t *testing.T) {
	p := newHolder().NewProcessor()
	require.NoError(t, p.PreProcess([]model.WalletOperation{model.NewWalletOperation("c2", "EUR", d("-60"))}, true))
	assert.True(t, p.Balance("c2", "EUR").Balance.Equal(d("-10")))
}

func TestPreProcess_NegativeReservedClamped(t *testing.T) {
	p := newHolder().NewProcessor()
	require.NoError(t, p.PreProcess([]model.WalletOperation{model.NewReservationOperation("c1", "USD", d("-25"))}, false))
	assert.True(t, p.Balance("c1", "USD").Reserved.IsZero())
}

func TestPreProcess_SequentialBatchesAccumulate(t *testing.T) {
	h := newHolder()
	p := h.NewProcessor()
	require.NoError(t, p.PreProcess([]model.WalletOperation{model.NewReservationOperation("c1", "USD", d("50"))}, false))
	assert.Error(t, p.PreProcess([]model.WalletOperation{model.NewReservationOperation("c1", "USD", d("31"))}, false))
	require.NoError(t, p.PreProcess([]model.WalletOperation{model.NewReservationOperation("c1", "USD", d("30"))}, false))
	assert.True(t, p.AvailableBalance("c1", "USD", decimal.Zero).IsZero())
}

func TestBalancesHolder_TrustedAndSnapshot(t *testing.T) {
	h := newHolder("mm")
	assert.True(t, h.IsTrusted("mm"))
	h.SetTrusted("mm", false)
	h.SetTrusted("mm2", true)
	assert.Equal(t, []string{"mm2"}, h.TrustedClients())

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "c1", snap[0].ClientID)
	assert.Len(t, h.ClientBalances("c2"), 1)
}
