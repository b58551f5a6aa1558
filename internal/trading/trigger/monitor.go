// =============================
// Stop Order Trigger Processing
// =============================
// Runs inside the business goroutine after a message staged its changes.
// Triggered stop orders become child limit orders in the same execution
// context, so the stop, its child and the trades they cause commit together.

package trigger

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/process"
)

// StopOrderBookProcessor executes stop orders whose trigger condition holds
// on the staged books.
type StopOrderBookProcessor struct {
	logger *zap.Logger
	limit  *process.LimitOrderProcessor

	// maxTriggers bounds one run; each trigger removes a stop order so the
	// loop ends on its own, the bound only guards against bugs.
	maxTriggers int

	triggersProcessed int64
	childRejections   int64
}

// NewStopOrderBookProcessor creates the processor.
func NewStopOrderBookProcessor(logger *zap.Logger, limit *process.LimitOrderProcessor, maxTriggers int) *StopOrderBookProcessor {
	if maxTriggers <= 0 {
		maxTriggers = 10000
	}
	return &StopOrderBookProcessor{logger: logger, limit: limit, maxTriggers: maxTriggers}
}

// ProcessTriggered works through pairs until no stop order triggers and
// returns the stop orders that were executed or rejected.
func (p *StopOrderBookProcessor) ProcessTriggered(ec *execution.Context, pairs []string) []*model.Order {
	var (
		worklist = append([]string(nil), pairs...)
		queued   = make(map[string]bool, len(pairs))
		done     []*model.Order
	)
	for _, pair := range pairs {
		queued[pair] = true
	}
	for len(worklist) > 0 {
		pair := worklist[0]
		worklist = worklist[1:]
		queued[pair] = false

		book := ec.OrderBooks().Book(pair)
		stop, price, ok := ec.StopOrderBooks().Book(pair).Triggered(book.BidPrice(), book.AskPrice())
		if !ok {
			continue
		}
		if len(done) >= p.maxTriggers {
			p.logger.Error("stop trigger limit reached",
				zap.String("message_id", ec.MessageID),
				zap.Int("limit", p.maxTriggers))
			break
		}
		executed, childPair := p.execute(ec, stop, price)
		done = append(done, executed)
		for _, next := range []string{pair, childPair} {
			if !queued[next] {
				queued[next] = true
				worklist = append(worklist, next)
			}
		}
	}
	return done
}

// execute removes stop from its book and runs its child limit order with
// the stop reservation as payback.
func (p *StopOrderBookProcessor) execute(ec *execution.Context, stop *model.Order, price decimal.Decimal) (*model.Order, string) {
	atomic.AddInt64(&p.triggersProcessed, 1)

	executed := stop.Copy()
	ec.StopOrderBooks().RemoveOrders([]*model.Order{stop})
	ec.RemoveExpiryOrder(stop.ID)

	payback := executed.ReservedLimitVolume
	executed.ReservedLimitVolume = decimal.Zero
	child := process.NewChildOrder(executed, price, ec.Date())
	executed.ChildOrderExternalID = child.ExternalID

	p.logger.Info("stop order triggered",
		zap.String("message_id", ec.MessageID),
		zap.String("order_id", stop.ID),
		zap.String("child_order_id", child.ID),
		zap.String("asset_pair_id", stop.AssetPairID),
		zap.String("price", price.String()))

	res := p.limit.Process(ec, child, payback)
	if !res.PaybackApplied && payback.IsPositive() {
		if pair, ok := ec.AssetPair(stop.AssetPairID); ok {
			release := model.NewReservationOperation(stop.ClientID, stop.ReservedAssetID(pair), payback.Neg())
			if err := ec.Wallet().PreProcess([]model.WalletOperation{release}, true); err != nil {
				ec.Logger().Error("unable to release stop order reservation",
					zap.String("message_id", ec.MessageID),
					zap.String("order_id", stop.ID),
					zap.Error(err))
			}
		}
	}
	if res.Accepted() {
		executed.UpdateStatus(model.StatusExecuted, ec.Date())
	} else {
		atomic.AddInt64(&p.childRejections, 1)
		executed.UpdateStatus(res.Order.Status, ec.Date())
	}
	ec.AddOrderReport(executed, nil)
	return executed, child.AssetPairID
}

// Stats returns counters of processed triggers.
func (p *StopOrderBookProcessor) Stats() map[string]interface{} {
	return map[string]interface{}{
		"triggers_processed": atomic.LoadInt64(&p.triggersProcessed),
		"child_rejections":   atomic.LoadInt64(&p.childRejections),
		"max_triggers":       p.maxTriggers,
	}
}
