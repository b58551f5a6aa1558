package model

import "github.com/shopspring/decimal"

// FeeType selects who pays a fee.
type FeeType string

const (
	FeeTypeNone     FeeType = "NO_FEE"
	FeeTypeClient   FeeType = "CLIENT_FEE"   // paid by the order owner
	FeeTypeExternal FeeType = "EXTERNAL_FEE" // paid by SourceClientID on behalf of the owner
)

// FeeSizeType selects how Size is interpreted.
type FeeSizeType string

const (
	FeeSizePercentage FeeSizeType = "PERCENTAGE"
	FeeSizeAbsolute   FeeSizeType = "ABSOLUTE"
)

// FeeInstruction is attached to an order and applied to every leg it trades.
// MakerSize applies instead of Size when the order trades as maker.
type FeeInstruction struct {
	Type           FeeType             `json:"type"`
	SizeType       FeeSizeType         `json:"size_type,omitempty"`
	Size           decimal.NullDecimal `json:"size"`
	MakerSizeType  FeeSizeType         `json:"maker_size_type,omitempty"`
	MakerSize      decimal.NullDecimal `json:"maker_size"`
	SourceClientID string              `json:"source_client_id,omitempty"`
	TargetClientID string              `json:"target_client_id,omitempty"`
}

// FeeTransfer is the realised movement produced by a FeeInstruction.
type FeeTransfer struct {
	FromClientID string          `json:"from_client_id"`
	ToClientID   string          `json:"to_client_id"`
	AssetID      string          `json:"asset_id"`
	Volume       decimal.Decimal `json:"volume"`
}
