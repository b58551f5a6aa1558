package model

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending     OrderStatus = "PENDING"
	StatusInOrderBook OrderStatus = "IN_ORDER_BOOK"
	StatusProcessing  OrderStatus = "PROCESSING"
	StatusMatched     OrderStatus = "MATCHED"
	StatusCancelled   OrderStatus = "CANCELLED"
	StatusReplaced    OrderStatus = "REPLACED"
	StatusExecuted    OrderStatus = "EXECUTED"

	StatusNotEnoughFunds                   OrderStatus = "NOT_ENOUGH_FUNDS"
	StatusReservedVolumeGreaterThanBalance OrderStatus = "RESERVED_VOLUME_GREATER_THAN_BALANCE"
	StatusNoLiquidity                      OrderStatus = "NO_LIQUIDITY"
	StatusUnknownAsset                     OrderStatus = "UNKNOWN_ASSET"
	StatusDisabledAsset                    OrderStatus = "DISABLED_ASSET"
	StatusLeadToNegativeSpread             OrderStatus = "LEAD_TO_NEGATIVE_SPREAD"
	StatusInvalidFee                       OrderStatus = "INVALID_FEE"
	StatusTooSmallVolume                   OrderStatus = "TOO_SMALL_VOLUME"
	StatusTooLargeVolume                   OrderStatus = "TOO_LARGE_VOLUME"
	StatusInvalidPrice                     OrderStatus = "INVALID_PRICE"
	StatusInvalidPriceAccuracy             OrderStatus = "INVALID_PRICE_ACCURACY"
	StatusInvalidVolume                    OrderStatus = "INVALID_VOLUME"
	StatusInvalidVolumeAccuracy            OrderStatus = "INVALID_VOLUME_ACCURACY"
	StatusInvalidValue                     OrderStatus = "INVALID_VALUE"
	StatusInvalidTimeInForce               OrderStatus = "INVALID_TIME_IN_FORCE"
	StatusNotFoundPrevious                 OrderStatus = "NOT_FOUND_PREVIOUS"
	StatusTooHighPriceDeviation            OrderStatus = "TOO_HIGH_PRICE_DEVIATION"
	StatusTooHighMidPriceDeviation         OrderStatus = "TOO_HIGH_MID_PRICE_DEVIATION"
	StatusExpired                          OrderStatus = "EXPIRED"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:     {StatusInOrderBook, StatusProcessing, StatusMatched, StatusExecuted, StatusCancelled, StatusReplaced, StatusExpired},
	StatusInOrderBook: {StatusProcessing, StatusMatched, StatusCancelled, StatusReplaced, StatusExpired},
	StatusProcessing:  {StatusMatched, StatusCancelled, StatusReplaced, StatusExpired},
}

// IsTerminal reports whether no further transition is possible from s.
func (s OrderStatus) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// IsRejection reports whether s is a failure state produced by validation,
// balance checks or matching.
func (s OrderStatus) IsRejection() bool {
	switch s {
	case StatusPending, StatusInOrderBook, StatusProcessing, StatusMatched,
		StatusCancelled, StatusReplaced, StatusExecuted, StatusExpired:
		return false
	}
	return true
}

// CanTransition reports whether an order may move from one status to another.
// New orders start with an empty status and may enter any state.
func CanTransition(from, to OrderStatus) bool {
	if from == "" {
		return true
	}
	if from == to {
		return from == StatusProcessing || from == StatusInOrderBook || from == StatusPending
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	if !from.IsTerminal() && to.IsRejection() {
		return true
	}
	return false
}
