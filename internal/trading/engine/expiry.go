package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/messages"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// expireLoop periodically turns expired GTD orders into cancel messages.
// Entries leave the queue only when the cancel commits, so an id may be
// sent twice; the second cancel finds no resting order and changes nothing.
func (e *Engine) expireLoop(ctx context.Context) {
	defer e.loops.Done()
	ticker := time.NewTicker(e.cfg.ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w := e.expiredOrdersMessage(e.now())
			if w == nil {
				continue
			}
			if err := e.enqueueInternal(ctx, w); err != nil {
				e.logger.Warn("failed to enqueue expired orders cancel", zap.Error(err))
			}
		}
	}
}

// expiredOrdersMessage builds the cancel message for orders expired at now,
// or nil when none are.
func (e *Engine) expiredOrdersMessage(now time.Time) *messages.MessageWrapper {
	expired := e.factory.Expiry().Expired(now)
	if len(expired) == 0 {
		return nil
	}
	ids := make([]string, 0, len(expired))
	for _, entry := range expired {
		ids = append(ids, entry.OrderID)
	}
	w := messages.NewMessageWrapper(uuid.NewString(), "", messages.TypeExpiredOrdersCancel, nil, now)
	w.Payload = &messages.CancelOrders{OrderIDs: ids, Status: model.StatusExpired}
	e.logger.Info("orders expired", zap.Int("count", len(ids)))
	return w
}
