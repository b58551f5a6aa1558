// Package validation holds the business rules an order must pass before it
// may touch a book or a balance, plus structural checks of inbound requests.
package validation

import (
	"fmt"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// OrderValidationError rejects an order with a terminal status.
type OrderValidationError struct {
	Status  model.OrderStatus
	Message string
}

func (e *OrderValidationError) Error() string {
	if e.Message == "" {
		return string(e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

func reject(status model.OrderStatus, format string, args ...any) error {
	return &OrderValidationError{Status: status, Message: fmt.Sprintf(format, args...)}
}
