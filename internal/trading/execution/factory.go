package execution

import (
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/balance"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
)

// ContextFactory wires new execution contexts to the live state.
type ContextFactory struct {
	logger    *zap.Logger
	refdata   RefData
	balances  *balance.BalancesHolder
	books     *orderbook.OrderBooksHolder
	stopBooks *orderbook.StopOrderBooksHolder
	expiry    *orderbook.ExpiryOrdersQueue
}

// NewContextFactory creates a factory over the given live state.
func NewContextFactory(
	logger *zap.Logger,
	refdata RefData,
	balances *balance.BalancesHolder,
	books *orderbook.OrderBooksHolder,
	stopBooks *orderbook.StopOrderBooksHolder,
	expiry *orderbook.ExpiryOrdersQueue,
) *ContextFactory {
	return &ContextFactory{
		logger:    logger,
		refdata:   refdata,
		balances:  balances,
		books:     books,
		stopBooks: stopBooks,
		expiry:    expiry,
	}
}

// New opens a context for one message.
func (f *ContextFactory) New(messageID, requestID, messageType string, date time.Time) *Context {
	return &Context{
		MessageID:     messageID,
		RequestID:     requestID,
		MessageType:   messageType,
		date:          date,
		logger:        f.logger.With(zap.String("message_id", messageID), zap.String("message_type", messageType)),
		refdata:       f.refdata,
		wallet:        f.balances.NewProcessor(),
		books:         f.books.Tx(),
		stopBooks:     f.stopBooks.Tx(),
		expiry:        f.expiry,
		addedExpiry:   make(map[string]*model.Order),
		removedExpiry: make(map[string]struct{}),
	}
}

// Balances returns the live balance table.
func (f *ContextFactory) Balances() *balance.BalancesHolder { return f.balances }

// OrderBooks returns the live limit books.
func (f *ContextFactory) OrderBooks() *orderbook.OrderBooksHolder { return f.books }

// StopOrderBooks returns the live stop books.
func (f *ContextFactory) StopOrderBooks() *orderbook.StopOrderBooksHolder { return f.stopBooks }

// Expiry returns the expiry queue.
func (f *ContextFactory) Expiry() *orderbook.ExpiryOrdersQueue { return f.expiry }
