package execution

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
)

// BookState is the full content of one book at persist time.
type BookState struct {
	AssetPairID string         `json:"asset_pair_id"`
	Orders      []*model.Order `json:"orders"`
}

// PersistenceData is everything one message changed, written atomically.
type PersistenceData struct {
	SequenceNumber   uint64               `json:"sequence_number"`
	Date             time.Time            `json:"date"`
	Balances         []model.AssetBalance `json:"balances"`
	OrderBooks       []BookState          `json:"order_books"`
	StopOrderBooks   []BookState          `json:"stop_order_books"`
	ProcessedMessage *ProcessedMessage    `json:"processed_message,omitempty"`
}

// IsEmpty reports whether there is nothing but possibly a dedup record.
func (d *PersistenceData) IsEmpty() bool {
	return len(d.Balances) == 0 && len(d.OrderBooks) == 0 && len(d.StopOrderBooks) == 0
}

// ErrAlreadyProcessed is returned by a Persister when the processed-message
// record of the data is already stored. Nothing is written.
var ErrAlreadyProcessed = errors.New("message already processed")

// Persister writes PersistenceData durably. It must write all or nothing.
type Persister interface {
	Persist(ctx context.Context, data *PersistenceData) error
}

// PersistGuard marks a message as already attempted so a second attempt
// returns the first result.
type PersistGuard interface {
	TriedToPersist() bool
	PersistResult() error
	SetPersistResult(err error)
}

// BuildPersistenceData snapshots the staged state of ec.
func BuildPersistenceData(ec *Context, seq uint64) *PersistenceData {
	data := &PersistenceData{
		SequenceNumber:   seq,
		Date:             ec.Date(),
		Balances:         ec.Wallet().ChangedBalances(),
		ProcessedMessage: ec.ProcessedMessage(),
	}
	for _, b := range ec.OrderBooks().ChangedBooks() {
		data.OrderBooks = append(data.OrderBooks, bookState(b))
	}
	for _, b := range ec.StopOrderBooks().ChangedBooks() {
		data.StopOrderBooks = append(data.StopOrderBooks, BookState{AssetPairID: b.AssetPairID(), Orders: b.Orders()})
	}
	return data
}

func bookState(b *orderbook.AssetOrderBook) BookState {
	orders := b.OrderBook(true)
	orders = append(orders, b.OrderBook(false)...)
	return BookState{AssetPairID: b.AssetPairID(), Orders: orders}
}

// PersistenceService persists a context and commits it on success.
type PersistenceService struct {
	persister Persister
	logger    *zap.Logger
}

// NewPersistenceService creates the service.
func NewPersistenceService(logger *zap.Logger, persister Persister) *PersistenceService {
	return &PersistenceService{persister: persister, logger: logger}
}

// Persist writes the staged state of ec with sequence number seq. On
// success the context is applied; on any error it is discarded and live
// state stays untouched. ErrAlreadyProcessed is returned unwrapped. guard
// may be nil.
func (s *PersistenceService) Persist(ctx context.Context, guard PersistGuard, ec *Context, seq uint64) error {
	if guard != nil && guard.TriedToPersist() {
		return guard.PersistResult()
	}
	data := BuildPersistenceData(ec, seq)
	err := s.persister.Persist(ctx, data)
	if guard != nil {
		guard.SetPersistResult(err)
	}
	switch {
	case err == nil:
		ec.Apply()
		return nil
	case errors.Is(err, ErrAlreadyProcessed):
		s.logger.Warn("message already persisted, discarding staged state",
			zap.String("message_id", ec.MessageID),
			zap.Uint64("sequence_number", seq))
		ec.Error("message already processed")
		return ErrAlreadyProcessed
	default:
		s.logger.Error("unable to save result",
			zap.String("message_id", ec.MessageID),
			zap.Uint64("sequence_number", seq),
			zap.Error(err))
		ec.Error("unable to save result: " + err.Error())
		return err
	}
}
