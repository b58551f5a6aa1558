package messages

import (
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// Status is the outcome of a message as seen by the caller.
type Status string

const (
	StatusOK           Status = "OK"
	StatusRejected     Status = "REJECTED"
	StatusBadRequest   Status = "BAD_REQUEST"
	StatusDuplicate    Status = "DUPLICATE"
	StatusRuntimeError Status = "RUNTIME_ERROR"
	StatusUnavailable  Status = "UNAVAILABLE"
)

// MessageUnableToSave is the response text of a failed persist.
const MessageUnableToSave = "unable to save result"

// OrderResult is the outcome of one order of a message.
type OrderResult struct {
	ID              string            `json:"id"`
	ExternalID      string            `json:"external_id"`
	Status          model.OrderStatus `json:"status"`
	Reason          string            `json:"reason,omitempty"`
	Price           decimal.Decimal   `json:"price"`
	RemainingVolume decimal.Decimal   `json:"remaining_volume"`
}

// NewOrderResult summarises order with an optional rejection reason.
func NewOrderResult(order *model.Order, reason string) OrderResult {
	return OrderResult{
		ID:              order.ID,
		ExternalID:      order.ExternalID,
		Status:          order.Status,
		Reason:          reason,
		Price:           order.Price,
		RemainingVolume: order.RemainingVolume,
	}
}

// Response answers one message.
type Response struct {
	MessageID      string        `json:"message_id"`
	Status         Status        `json:"status"`
	Message        string        `json:"message,omitempty"`
	SequenceNumber uint64        `json:"sequence_number,omitempty"`
	Orders         []OrderResult `json:"orders,omitempty"`
	Details        any           `json:"details,omitempty"`
}
