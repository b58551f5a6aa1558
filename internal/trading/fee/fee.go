// Package fee turns fee instructions attached to orders into the transfers
// charged on every matched leg.
package fee

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/numeric"
)

// ErrFeeExceedsVolume is returned when the fees charged to a client on a
// leg are larger than what the client receives on it.
var ErrFeeExceedsVolume = errors.New("fee exceeds received volume")

// Config holds the venue-wide default fees applied to orders that carry no
// fee instructions of their own.
type Config struct {
	DefaultMakerFee decimal.Decimal `mapstructure:"default_maker_fee"`
	DefaultTakerFee decimal.Decimal `mapstructure:"default_taker_fee"`
	TargetClientID  string          `mapstructure:"target_client_id"`
}

// Calculator computes fee transfers for matched legs.
type Calculator struct {
	defaults []model.FeeInstruction
}

// NewCalculator creates a calculator. A zero Config disables default fees.
func NewCalculator(cfg Config) *Calculator {
	c := &Calculator{}
	if cfg.TargetClientID != "" && (cfg.DefaultTakerFee.IsPositive() || cfg.DefaultMakerFee.IsPositive()) {
		c.defaults = []model.FeeInstruction{{
			Type:           model.FeeTypeClient,
			SizeType:       model.FeeSizePercentage,
			Size:           numeric.Null(cfg.DefaultTakerFee),
			MakerSizeType:  model.FeeSizePercentage,
			MakerSize:      numeric.Null(cfg.DefaultMakerFee),
			TargetClientID: cfg.TargetClientID,
		}}
	}
	return c
}

// Instructions returns the instructions effective for order.
func (c *Calculator) Instructions(order *model.Order) []model.FeeInstruction {
	if len(order.Fees) > 0 {
		return order.Fees
	}
	return c.defaults
}

// Leg computes the fee transfers for an owner receiving volume of assetID,
// rounded up to accuracy. It fails when the owner would pay more than it
// receives.
func (c *Calculator) Leg(order *model.Order, isMaker bool, assetID string, received decimal.Decimal, accuracy int) ([]model.FeeTransfer, error) {
	var transfers []model.FeeTransfer
	ownerPaid := decimal.Zero
	for _, in := range c.Instructions(order) {
		if in.Type == model.FeeTypeNone || in.Type == "" {
			continue
		}
		sizeType, size := in.SizeType, in.Size
		if isMaker && in.MakerSize.Valid {
			sizeType, size = in.MakerSizeType, in.MakerSize
		}
		if !size.Valid || size.Decimal.IsZero() {
			continue
		}
		var amount decimal.Decimal
		switch sizeType {
		case model.FeeSizeAbsolute:
			amount = numeric.RoundUp(size.Decimal, accuracy)
		default:
			amount = numeric.RoundUp(received.Mul(size.Decimal), accuracy)
		}
		if amount.IsZero() {
			continue
		}
		payer := order.ClientID
		if in.Type == model.FeeTypeExternal {
			payer = in.SourceClientID
		}
		if payer == order.ClientID {
			ownerPaid = ownerPaid.Add(amount)
		}
		transfers = append(transfers, model.FeeTransfer{
			FromClientID: payer,
			ToClientID:   in.TargetClientID,
			AssetID:      assetID,
			Volume:       amount,
		})
	}
	if ownerPaid.GreaterThan(received) {
		return nil, ErrFeeExceedsVolume
	}
	return transfers, nil
}

// CashMovements converts fee transfers into wallet operations.
func CashMovements(transfers []model.FeeTransfer) []model.WalletOperation {
	ops := make([]model.WalletOperation, 0, 2*len(transfers))
	for _, t := range transfers {
		ops = append(ops,
			model.NewWalletOperation(t.FromClientID, t.AssetID, t.Volume.Neg()),
			model.NewWalletOperation(t.ToClientID, t.AssetID, t.Volume),
		)
	}
	return ops
}

// ValidInstructions reports whether every instruction is well formed.
func ValidInstructions(instructions []model.FeeInstruction) bool {
	for _, in := range instructions {
		if !validInstruction(in) {
			return false
		}
	}
	return true
}

func validInstruction(in model.FeeInstruction) bool {
	switch in.Type {
	case model.FeeTypeNone, "":
		return true
	case model.FeeTypeClient, model.FeeTypeExternal:
	default:
		return false
	}
	if in.TargetClientID == "" {
		return false
	}
	if in.Type == model.FeeTypeExternal && in.SourceClientID == "" {
		return false
	}
	return validSize(in.SizeType, in.Size) && validSize(in.MakerSizeType, in.MakerSize)
}

func validSize(t model.FeeSizeType, size decimal.NullDecimal) bool {
	if !size.Valid {
		return true
	}
	if size.Decimal.IsNegative() {
		return false
	}
	switch t {
	case model.FeeSizeAbsolute:
		return true
	case model.FeeSizePercentage, "":
		return size.Decimal.LessThanOrEqual(decimal.NewFromInt(1))
	}
	return false
}
