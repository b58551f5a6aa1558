package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/balance"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_matching/internal/trading/refdata"
)

type fakePersister struct {
	calls int
	err   error
	last  *PersistenceData
}

func (p *fakePersister) Persist(_ context.Context, data *PersistenceData) error {
	p.calls++
	p.last = data
	return p.err
}

type guard struct {
	tried bool
	err   error
}

func (g *guard) TriedToPersist() bool       { return g.tried }
func (g *guard) PersistResult() error       { return g.err }
func (g *guard) SetPersistResult(err error) { g.tried, g.err = true, err }

type recordingPublisher struct {
	events []*ExecutionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e *ExecutionEvent) error {
	p.events = append(p.events, e)
	return nil
}

type sink struct{ snapshots []*orderbook.Snapshot }

func (s *sink) Update(snaps []*orderbook.Snapshot) { s.snapshots = snaps }

func newFactory(t *testing.T, trusted ...string) *ContextFactory {
	t.Helper()
	cache := refdata.NewCache(zap.NewNop(), &refdata.StaticLoader{Data: refdata.Data{
		Assets:     []model.Asset{{ID: "EUR", Accuracy: 2}, {ID: "USD", Accuracy: 2}},
		AssetPairs: []model.AssetPair{{ID: "EURUSD", BaseAssetID: "EUR", QuotingAssetID: "USD", Accuracy: 5}},
	}}, 0)
	require.NoError(t, cache.Refresh(context.Background()))
	balances := balance.NewBalancesHolder(zap.NewNop(), trusted)
	balances.Load([]model.AssetBalance{{ClientID: "c1", AssetID: "USD", Balance: decimal.NewFromInt(100)}})
	return NewContextFactory(zap.NewNop(), cache, balances,
		orderbook.NewOrderBooksHolder(), orderbook.NewStopOrderBooksHolder(), orderbook.NewExpiryOrdersQueue())
}

func stageOrder(t *testing.T, ec *Context) *model.Order {
	t.Helper()
	expiry := ec.Date().Add(time.Hour)
	o := &model.Order{
		Type: model.OrderTypeLimit, ID: "o1", AssetPairID: "EURUSD", ClientID: "c1",
		Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(10), RemainingVolume: decimal.NewFromInt(10),
		Status: model.StatusInOrderBook, TimeInForce: model.TimeInForceGTD, ExpiryTime: &expiry,
		ReservedLimitVolume: decimal.NewFromInt(10),
	}
	require.NoError(t, ec.Wallet().PreProcess([]model.WalletOperation{
		model.NewReservationOperation("c1", "USD", decimal.NewFromInt(10)),
	}, false))
	ec.OrderBooks().AddOrder(o)
	ec.AddExpiryOrder(o)
	ec.AddOrderReport(o, nil)
	return o
}

func TestPersist_SuccessAppliesState(t *testing.T) {
	f := newFactory(t)
	ec := f.New("m1", "r1", "LIMIT_ORDER", time.Now())
	ec.SetProcessedMessage(&ProcessedMessage{MessageID: "m1"})
	stageOrder(t, ec)

	p := &fakePersister{}
	svc := NewPersistenceService(zap.NewNop(), p)
	require.NoError(t, svc.Persist(context.Background(), nil, ec, 7))

	require.NotNil(t, p.last)
	assert.Equal(t, uint64(7), p.last.SequenceNumber)
	require.Len(t, p.last.OrderBooks, 1)
	assert.Len(t, p.last.OrderBooks[0].Orders, 1)
	assert.Equal(t, "m1", p.last.ProcessedMessage.MessageID)

	assert.True(t, ec.Applied())
	assert.Equal(t, 1, f.OrderBooks().Book("EURUSD").Len())
	assert.True(t, f.Balances().Balance("c1", "USD").Reserved.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, f.Expiry().Len())
	require.Len(t, ec.BalanceUpdates(), 1)
}

func TestPersist_FailureLeavesLiveStateUntouched(t *testing.T) {
	f := newFactory(t)
	ec := f.New("m1", "r1", "LIMIT_ORDER", time.Now())
	stageOrder(t, ec)

	svc := NewPersistenceService(zap.NewNop(), &fakePersister{err: errors.New("disk full")})
	assert.Error(t, svc.Persist(context.Background(), nil, ec, 1))
	assert.False(t, ec.Applied())
	assert.Contains(t, ec.Failure(), "unable to save result")
	assert.Equal(t, 0, f.OrderBooks().Book("EURUSD").Len())
	assert.True(t, f.Balances().Balance("c1", "USD").Reserved.IsZero())
	assert.Equal(t, 0, f.Expiry().Len())
}

func TestPersist_GuardReturnsFirstResult(t *testing.T) {
	f := newFactory(t)
	p := &fakePersister{}
	svc := NewPersistenceService(zap.NewNop(), p)
	g := &guard{}

	ec := f.New("m1", "r1", "LIMIT_ORDER", time.Now())
	stageOrder(t, ec)
	require.NoError(t, svc.Persist(context.Background(), g, ec, 1))
	p.err = errors.New("would fail now")
	assert.NoError(t, svc.Persist(context.Background(), g, ec, 1))
	assert.Equal(t, 1, p.calls, "second attempt never reaches storage")
	assert.True(t, f.Balances().Balance("c1", "USD").Reserved.Equal(decimal.NewFromInt(10)), "not applied twice")
}

func TestPersist_AlreadyProcessedIsNotApplied(t *testing.T) {
	f := newFactory(t)
	svc := NewPersistenceService(zap.NewNop(), &fakePersister{err: fmt.Errorf("badger: %w", ErrAlreadyProcessed)})

	ec := f.New("m1", "r1", "LIMIT_ORDER", time.Now())
	ec.SetProcessedMessage(&ProcessedMessage{MessageID: "m1"})
	stageOrder(t, ec)

	err := svc.Persist(context.Background(), nil, ec, 2)
	assert.Equal(t, ErrAlreadyProcessed, err)
	assert.False(t, ec.Applied())
	assert.Equal(t, 0, f.OrderBooks().Book("EURUSD").Len())
	assert.True(t, f.Balances().Balance("c1", "USD").Reserved.IsZero())
	assert.Equal(t, 0, f.Expiry().Len())
}

func TestAddOrderReport_TrustedChannel(t *testing.T) {
	f := newFactory(t, "mm")
	ec := f.New("m1", "", "LIMIT_ORDER", time.Now())

	o := &model.Order{ClientID: "mm", Volume: decimal.NewFromInt(1), RemainingVolume: decimal.NewFromInt(1)}
	ec.AddOrderReport(o, nil)
	assert.Len(t, ec.TrustedClientOrders(), 1)
	assert.Empty(t, ec.ClientOrders())

	ec.AddOrderReport(o, []model.Trade{{TradeID: "t"}})
	assert.Len(t, ec.ClientOrders(), 1)

	ec.AddOrderReport(&model.Order{ClientID: "c1"}, nil)
	assert.Len(t, ec.ClientOrders(), 2)
}

func TestEventSender(t *testing.T) {
	f := newFactory(t)
	ec := f.New("m1", "r1", "LIMIT_ORDER", time.Now())
	stageOrder(t, ec)
	require.NoError(t, NewPersistenceService(zap.NewNop(), &fakePersister{}).Persist(context.Background(), nil, ec, 3))

	pub := &recordingPublisher{}
	s := &sink{}
	event := NewEventSender(zap.NewNop(), pub, s, 10).Send(context.Background(), ec, 3)
	require.Len(t, pub.events, 1)
	assert.Equal(t, uint64(3), event.SequenceNumber)
	assert.Len(t, event.BalanceUpdates, 1)
	assert.Len(t, event.ClientOrders, 1)
	require.Len(t, event.OrderBooks, 1)
	assert.Len(t, s.snapshots, 1)
}

func TestSequenceNumbers(t *testing.T) {
	s := NewSequenceNumbers(5)
	n := s.Next()
	assert.Equal(t, uint64(6), n)
	assert.Equal(t, uint64(6), s.Next(), "unconfirmed numbers are reused")
	s.Confirm(n)
	assert.Equal(t, uint64(6), s.Current())
	assert.Equal(t, uint64(7), s.Next())
	s.Reset(1)
	assert.Equal(t, uint64(1), s.Current())
}

func TestExpiryStaging(t *testing.T) {
	f := newFactory(t)
	ec := f.New("m1", "", "", time.Now())
	o := stageOrder(t, ec)
	ec.RemoveExpiryOrder(o.ID)
	ec.Apply()
	assert.Equal(t, 0, f.Expiry().Len())
}
