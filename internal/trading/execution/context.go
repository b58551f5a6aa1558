// Package execution holds the unit of work that ties one inbound message to
// one atomic set of book, stop book, balance and report changes.
package execution

import (
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/balance"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
)

// RefData resolves reference data. Unknown ids return false.
type RefData interface {
	Asset(id string) (*model.Asset, bool)
	AssetPair(id string) (*model.AssetPair, bool)
}

// ProcessedMessage is the dedup record persisted with a message's effects.
type ProcessedMessage struct {
	MessageID string    `json:"message_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is created per message and discarded after Apply or Error. All
// changes are staged; live state only changes in Apply.
type Context struct {
	MessageID   string
	RequestID   string
	MessageType string

	date      time.Time
	logger    *zap.Logger
	refdata   RefData
	wallet    *balance.WalletOperationsProcessor
	books     *orderbook.OrderBooksTx
	stopBooks *orderbook.StopOrderBooksTx
	expiry    *orderbook.ExpiryOrdersQueue

	addedExpiry   map[string]*model.Order
	removedExpiry map[string]struct{}

	clientOrders  []model.OrderWithTrades
	trustedOrders []model.OrderWithTrades
	marketOrders  []model.OrderWithTrades
	lkkTrades     []model.LkkTrade

	processedMessage *ProcessedMessage
	balanceUpdates   []model.BalanceUpdate
	applied          bool
	failed           string
}

// Wallet returns the staging wallet processor.
func (c *Context) Wallet() *balance.WalletOperationsProcessor { return c.wallet }

// OrderBooks returns the staged limit books.
func (c *Context) OrderBooks() *orderbook.OrderBooksTx { return c.books }

// StopOrderBooks returns the staged stop books.
func (c *Context) StopOrderBooks() *orderbook.StopOrderBooksTx { return c.stopBooks }

// Date is the processing timestamp shared by every change of the message.
func (c *Context) Date() time.Time { return c.date }

// Logger returns a logger annotated with the message id.
func (c *Context) Logger() *zap.Logger { return c.logger }

// Asset looks an asset up.
func (c *Context) Asset(id string) (*model.Asset, bool) { return c.refdata.Asset(id) }

// AssetPair looks an asset pair up.
func (c *Context) AssetPair(id string) (*model.AssetPair, bool) { return c.refdata.AssetPair(id) }

// IsTrusted reports whether clientID is a trusted client.
func (c *Context) IsTrusted(clientID string) bool { return c.wallet.IsTrusted(clientID) }

// SetProcessedMessage records the dedup entry to persist with the message.
func (c *Context) SetProcessedMessage(pm *ProcessedMessage) { c.processedMessage = pm }

// ProcessedMessage returns the dedup entry, if any.
func (c *Context) ProcessedMessage() *ProcessedMessage { return c.processedMessage }

// AddOrderReport routes a report entry. Orders of trusted clients that never
// traded go to the trusted channel; everything else goes to clients.
func (c *Context) AddOrderReport(order *model.Order, trades []model.Trade) {
	entry := model.OrderWithTrades{Order: order, Trades: trades}
	if c.IsTrusted(order.ClientID) && len(trades) == 0 && !order.IsPartiallyMatched() {
		c.trustedOrders = append(c.trustedOrders, entry)
		return
	}
	c.clientOrders = append(c.clientOrders, entry)
}

// AddOrderReports routes several report entries.
func (c *Context) AddOrderReports(entries []model.OrderWithTrades) {
	for _, e := range entries {
		c.AddOrderReport(e.Order, e.Trades)
	}
}

// AddMarketOrderReport records the outcome of a market order.
func (c *Context) AddMarketOrderReport(order *model.Order, trades []model.Trade) {
	c.marketOrders = append(c.marketOrders, model.OrderWithTrades{Order: order, Trades: trades})
}

// AddLkkTrades records flat trade entries.
func (c *Context) AddLkkTrades(trades []model.LkkTrade) {
	c.lkkTrades = append(c.lkkTrades, trades...)
}

// ClientOrders returns the client report entries.
func (c *Context) ClientOrders() []model.OrderWithTrades { return c.clientOrders }

// TrustedClientOrders returns the trusted client report entries.
func (c *Context) TrustedClientOrders() []model.OrderWithTrades { return c.trustedOrders }

// MarketOrders returns the market order report entries.
func (c *Context) MarketOrders() []model.OrderWithTrades { return c.marketOrders }

// LkkTrades returns the flat trade entries.
func (c *Context) LkkTrades() []model.LkkTrade { return c.lkkTrades }

// AddExpiryOrder stages registering a resting order for expiry.
func (c *Context) AddExpiryOrder(order *model.Order) {
	if !order.HasExpiry() {
		return
	}
	delete(c.removedExpiry, order.ID)
	c.addedExpiry[order.ID] = order
}

// RemoveExpiryOrder stages dropping an order from the expiry queue.
func (c *Context) RemoveExpiryOrder(orderID string) {
	delete(c.addedExpiry, orderID)
	c.removedExpiry[orderID] = struct{}{}
}

// Apply commits every staged change to live state. It must only be called
// after the changes were persisted.
func (c *Context) Apply() []model.BalanceUpdate {
	if c.applied {
		return c.balanceUpdates
	}
	c.balanceUpdates = c.wallet.Apply()
	c.books.Commit()
	c.stopBooks.Commit()
	for id := range c.removedExpiry {
		c.expiry.Remove(id)
	}
	for _, o := range c.addedExpiry {
		c.expiry.Add(o)
	}
	c.applied = true
	return c.balanceUpdates
}

// Error discards the staged changes.
func (c *Context) Error(reason string) {
	c.failed = reason
	c.logger.Error("execution context discarded", zap.String("reason", reason))
}

// Applied reports whether Apply ran.
func (c *Context) Applied() bool { return c.applied }

// BalanceUpdates returns the updates committed by Apply.
func (c *Context) BalanceUpdates() []model.BalanceUpdate { return c.balanceUpdates }

// Failure returns the reason passed to Error, if any.
func (c *Context) Failure() string { return c.failed }
