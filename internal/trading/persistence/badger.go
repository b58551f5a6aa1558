// Package persistence stores the engine state that PersistenceData carries
// and remembers which messages were already processed.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// ErrStaleSequence is returned when data carries a sequence number that is
// not above the last persisted one.
var ErrStaleSequence = errors.New("sequence number not above last persisted")

// ErrAlreadyProcessed is returned by Persist when the message of the data
// was persisted before.
var ErrAlreadyProcessed = execution.ErrAlreadyProcessed

const (
	keySequence     = "seq"
	prefixBalance   = "balance:"
	prefixBook      = "book:"
	prefixStopBook  = "stopbook:"
	prefixProcessed = "processed:"
)

// State is everything needed to rebuild the live holders on start.
type State struct {
	SequenceNumber uint64
	Balances       []model.AssetBalance
	OrderBooks     []execution.BookState
	StopOrderBooks []execution.BookState
}

// BadgerPersister writes each PersistenceData in a single Badger
// transaction.
type BadgerPersister struct {
	db           *badger.DB
	logger       *zap.Logger
	processedTTL time.Duration
}

// BadgerOptions configures OpenBadger. An empty Path opens an in-memory
// store.
type BadgerOptions struct {
	Path         string
	ProcessedTTL time.Duration
	SyncWrites   bool
}

// OpenBadger opens the store.
func OpenBadger(logger *zap.Logger, o BadgerOptions) (*BadgerPersister, error) {
	opts := badger.DefaultOptions(o.Path)
	if o.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithSyncWrites(o.SyncWrites)
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerPersister{db: db, logger: logger, processedTTL: o.ProcessedTTL}, nil
}

// Persist implements execution.Persister.
func (p *BadgerPersister) Persist(ctx context.Context, data *execution.PersistenceData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.db.Update(func(txn *badger.Txn) error {
		if pm := data.ProcessedMessage; pm != nil {
			_, err := txn.Get([]byte(prefixProcessed + pm.MessageID))
			if err == nil {
				return ErrAlreadyProcessed
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		if data.SequenceNumber > 0 {
			last, err := readSequence(txn)
			if err != nil {
				return err
			}
			if data.SequenceNumber <= last {
				return fmt.Errorf("%w: %d <= %d", ErrStaleSequence, data.SequenceNumber, last)
			}
			if err := txn.Set([]byte(keySequence), []byte(strconv.FormatUint(data.SequenceNumber, 10))); err != nil {
				return err
			}
		}
		for _, b := range data.Balances {
			if err := setJSON(txn, balanceKey(b.ClientID, b.AssetID), b); err != nil {
				return err
			}
		}
		for _, b := range data.OrderBooks {
			if err := setBook(txn, prefixBook, b); err != nil {
				return err
			}
		}
		for _, b := range data.StopOrderBooks {
			if err := setBook(txn, prefixStopBook, b); err != nil {
				return err
			}
		}
		if pm := data.ProcessedMessage; pm != nil {
			return p.setProcessed(txn, pm)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist sequence %d: %w", data.SequenceNumber, err)
	}
	return nil
}

func (p *BadgerPersister) setProcessed(txn *badger.Txn, pm *execution.ProcessedMessage) error {
	val, err := json.Marshal(pm)
	if err != nil {
		return err
	}
	e := badger.NewEntry([]byte(prefixProcessed+pm.MessageID), val)
	if p.processedTTL > 0 {
		e = e.WithTTL(p.processedTTL)
	}
	return txn.SetEntry(e)
}

// Load reads the persisted state.
func (p *BadgerPersister) Load(ctx context.Context) (*State, error) {
	st := &State{}
	err := p.db.View(func(txn *badger.Txn) error {
		seq, err := readSequence(txn)
		if err != nil {
			return err
		}
		st.SequenceNumber = seq
		if err := scan(txn, prefixBalance, func(v []byte) error {
			var b model.AssetBalance
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			st.Balances = append(st.Balances, b)
			return nil
		}); err != nil {
			return err
		}
		if st.OrderBooks, err = scanBooks(txn, prefixBook); err != nil {
			return err
		}
		st.StopOrderBooks, err = scanBooks(txn, prefixStopBook)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	p.logger.Info("state loaded",
		zap.Uint64("sequence_number", st.SequenceNumber),
		zap.Int("balances", len(st.Balances)),
		zap.Int("order_books", len(st.OrderBooks)),
		zap.Int("stop_order_books", len(st.StopOrderBooks)))
	return st, nil
}

// IsProcessed reports whether a message id was persisted before.
func (p *BadgerPersister) IsProcessed(_ context.Context, messageID string) (bool, error) {
	err := p.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixProcessed + messageID))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// MarkProcessed records a message id outside a PersistenceData write.
func (p *BadgerPersister) MarkProcessed(_ context.Context, messageID string) error {
	return p.db.Update(func(txn *badger.Txn) error {
		return p.setProcessed(txn, &execution.ProcessedMessage{MessageID: messageID, Timestamp: time.Now().UTC()})
	})
}

// Close closes the underlying BadgerDB.
func (p *BadgerPersister) Close() error {
	return p.db.Close()
}

func balanceKey(clientID, assetID string) []byte {
	return []byte(prefixBalance + clientID + ":" + assetID)
}

func readSequence(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get([]byte(keySequence))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(v []byte) error {
		seq, err = strconv.ParseUint(string(v), 10, 64)
		return err
	})
	return seq, err
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}

// setBook stores a full book; an empty book deletes the key.
func setBook(txn *badger.Txn, prefix string, b execution.BookState) error {
	key := []byte(prefix + b.AssetPairID)
	if len(b.Orders) == 0 {
		return txn.Delete(key)
	}
	return setJSON(txn, key, b)
}

func scan(txn *badger.Txn, prefix string, fn func(v []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func scanBooks(txn *badger.Txn, prefix string) ([]execution.BookState, error) {
	var out []execution.BookState
	err := scan(txn, prefix, func(v []byte) error {
		var b execution.BookState
		if err := json.Unmarshal(v, &b); err != nil {
			return err
		}
		out = append(out, b)
		return nil
	})
	return out, err
}
