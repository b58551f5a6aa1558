package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/balance"
	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/messages"
	"github.com/Aidin1998/pincex_matching/internal/trading/messaging"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_matching/internal/trading/persistence"
	"github.com/Aidin1998/pincex_matching/internal/trading/refdata"
)

type EngineTestSuite struct {
	suite.Suite

	ctx       context.Context
	factory   *execution.ContextFactory
	store     *persistence.MemoryPersister
	publisher *messaging.MemoryPublisher
	engine    *Engine
	clock     time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	logger := zap.NewNop()
	cache := refdata.NewCache(logger, &refdata.StaticLoader{Data: refdata.Data{
		Assets: []model.Asset{{ID: "EUR", Accuracy: 2}, {ID: "USD", Accuracy: 2}},
		AssetPairs: []model.AssetPair{
			{ID: "EURUSD", BaseAssetID: "EUR", QuotingAssetID: "USD", Accuracy: 5},
		},
	}}, 0)
	s.Require().NoError(cache.Refresh(s.ctx))

	s.factory = execution.NewContextFactory(logger, cache, balance.NewBalancesHolder(logger, nil),
		orderbook.NewOrderBooksHolder(), orderbook.NewStopOrderBooksHolder(), orderbook.NewExpiryOrdersQueue())
	s.store = persistence.NewMemoryPersister()
	s.publisher = messaging.NewMemoryPublisher(0)

	cfg := DefaultConfig()
	cfg.ExpiryInterval = time.Hour
	cfg.TrustedClients = []string{"mm"}
	s.engine = New(cfg, Deps{
		Logger:    logger,
		Factory:   s.factory,
		Persister: s.store,
		Publisher: s.publisher,
	})
	s.clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.engine.now = func() time.Time { return s.clock }
	s.Require().NoError(s.engine.Start(s.ctx))
}

func (s *EngineTestSuite) TearDownTest() {
	if s.engine.Running() {
		s.Require().NoError(s.engine.Stop())
	}
}

func (s *EngineTestSuite) process(id string, t messages.MessageType, req any) *messages.Response {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	resp, err := s.engine.Process(ctx, messages.NewMessageWrapper(id, "", t, req, s.clock))
	s.Require().NoError(err)
	return resp
}

func (s *EngineTestSuite) cash(id, client, asset, amount string) *messages.Response {
	return s.process(id, messages.TypeCashInOut, &messages.CashInOutRequest{ClientID: client, AssetID: asset, Amount: amount})
}

func (s *EngineTestSuite) limit(id, client, price, volume string) *messages.Response {
	return s.process(id, messages.TypeLimitOrder, &messages.LimitOrderRequest{
		ExternalID:  id,
		ClientID:    client,
		AssetPairID: "EURUSD",
		Price:       price,
		Volume:      volume,
	})
}

func (s *EngineTestSuite) balance(client, asset string) model.AssetBalance {
	return s.factory.Balances().Balance(client, asset)
}

func (s *EngineTestSuite) requireBalance(client, asset, total, reserved string) {
	b := s.balance(client, asset)
	s.Require().True(decimal.RequireFromString(total).Equal(b.Balance), "%s %s balance %s", client, asset, b.Balance)
	s.Require().True(decimal.RequireFromString(reserved).Equal(b.Reserved), "%s %s reserved %s", client, asset, b.Reserved)
}

func (s *EngineTestSuite) TestCashInOutAssignsSequenceNumbers() {
	r1 := s.cash("m1", "c", "USD", "100")
	r2 := s.cash("m2", "c", "EUR", "10")

	s.Equal(messages.StatusOK, r1.Status)
	s.Equal(uint64(1), r1.SequenceNumber)
	s.Equal(uint64(2), r2.SequenceNumber)
	s.Equal(uint64(2), s.engine.SequenceNumber())
	s.requireBalance("c", "USD", "100", "0")

	events := s.publisher.Events()
	s.Require().Len(events, 2)
	s.Equal("m1", events[0].MessageID)
	s.Require().Len(events[0].BalanceUpdates, 1)
}

func (s *EngineTestSuite) TestDuplicateMessageIsIgnored() {
	s.Equal(messages.StatusOK, s.cash("dup", "c", "USD", "100").Status)
	resp := s.cash("dup", "c", "USD", "100")

	s.Equal(messages.StatusDuplicate, resp.Status)
	s.requireBalance("c", "USD", "100", "0")
	s.Len(s.publisher.Events(), 1)
}

// forgetfulDedup never remembers anything, leaving storage as the only
// record of processed messages.
type forgetfulDedup struct{}

func (forgetfulDedup) IsProcessed(context.Context, string) (bool, error) { return false, nil }
func (forgetfulDedup) MarkProcessed(context.Context, string) error       { return nil }

func (s *EngineTestSuite) TestDuplicateCaughtByStorage() {
	s.Equal(messages.StatusOK, s.cash("dup", "c", "USD", "100").Status)
	s.Require().NoError(s.engine.Stop())

	cfg := DefaultConfig()
	cfg.ExpiryInterval = time.Hour
	s.engine = New(cfg, Deps{
		Logger:       zap.NewNop(),
		Factory:      s.factory,
		Persister:    s.store,
		Publisher:    s.publisher,
		Dedup:        forgetfulDedup{},
		LastSequence: 1,
	})
	s.engine.now = func() time.Time { return s.clock }
	s.Require().NoError(s.engine.Start(s.ctx))

	resp := s.cash("dup", "c", "USD", "100")
	s.Equal(messages.StatusDuplicate, resp.Status)
	s.requireBalance("c", "USD", "100", "0")
	s.Equal(uint64(1), s.engine.SequenceNumber())
	s.Len(s.publisher.Events(), 1)

	st, err := s.store.Load(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(1), st.SequenceNumber)
}

func (s *EngineTestSuite) TestBadRequestNeverReachesBusinessQueue() {
	resp := s.process("bad", messages.TypeLimitOrder, &messages.LimitOrderRequest{ClientID: "c"})

	s.Equal(messages.StatusBadRequest, resp.Status)
	s.NotEmpty(resp.Message)
	s.Equal(uint64(0), s.engine.SequenceNumber())
	s.Equal(0, s.store.Writes())
}

func (s *EngineTestSuite) TestRejectedCashWithdrawal() {
	resp := s.cash("w", "c", "USD", "-5")

	s.Equal(messages.StatusRejected, resp.Status)
	s.Contains(resp.Message, "available")
	s.requireBalance("c", "USD", "0", "0")
}

func (s *EngineTestSuite) TestLimitOrdersMatchAndPublishSnapshots() {
	s.cash("m1", "seller", "EUR", "10")
	s.cash("m2", "buyer", "USD", "100")

	sell := s.limit("sell", "seller", "1.2", "-10")
	s.Require().Len(sell.Orders, 1)
	s.Equal(model.StatusInOrderBook, sell.Orders[0].Status)
	s.requireBalance("seller", "EUR", "10", "10")

	snap, ok := s.engine.Snapshots().Book("EURUSD")
	s.Require().True(ok)
	s.Require().Len(snap.Asks, 1)

	buy := s.limit("buy", "buyer", "1.2", "4")
	s.Require().Len(buy.Orders, 1)
	s.Equal(model.StatusMatched, buy.Orders[0].Status)
	s.requireBalance("buyer", "USD", "95.2", "0")
	s.requireBalance("buyer", "EUR", "4", "0")
	s.requireBalance("seller", "EUR", "6", "6")
	s.requireBalance("seller", "USD", "4.8", "0")

	snap, _ = s.engine.Snapshots().Book("EURUSD")
	s.True(decimal.RequireFromString("6").Equal(snap.Asks[0].Volume))

	last := s.publisher.Events()[len(s.publisher.Events())-1]
	s.NotEmpty(last.LkkTrades)
	s.NotEmpty(last.OrderBooks)
}

func (s *EngineTestSuite) TestCancelReleasesReservation() {
	s.cash("m1", "c", "USD", "100")
	s.limit("o1", "c", "1.1", "10")
	s.requireBalance("c", "USD", "100", "11")

	resp := s.process("cancel", messages.TypeLimitOrderCancel, &messages.CancelRequest{
		ClientID:    "c",
		ExternalIDs: []string{"o1", "missing"},
	})

	s.Require().Len(resp.Orders, 2)
	s.Equal(model.StatusCancelled, resp.Orders[0].Status)
	s.Equal("missing", resp.Orders[1].ExternalID)
	s.requireBalance("c", "USD", "100", "0")
}

func (s *EngineTestSuite) TestCancelPreviousOrders() {
	s.cash("m1", "c", "USD", "100")
	s.limit("o1", "c", "1.1", "10")
	resp := s.process("o2", messages.TypeLimitOrder, &messages.LimitOrderRequest{
		ExternalID:     "o2",
		ClientID:       "c",
		AssetPairID:    "EURUSD",
		Price:          "1.0",
		Volume:         "90",
		CancelPrevious: true,
	})

	s.Require().Len(resp.Orders, 1)
	s.Equal(model.StatusInOrderBook, resp.Orders[0].Status)
	s.requireBalance("c", "USD", "100", "90")
}

func (s *EngineTestSuite) TestPersistFailureLeavesStateUntouched() {
	s.cash("m1", "c", "USD", "100")
	s.store.FailWith = errors.New("disk full")

	resp := s.cash("m2", "c", "USD", "50")

	s.Equal(messages.StatusRuntimeError, resp.Status)
	s.Equal(messages.MessageUnableToSave, resp.Message)
	s.requireBalance("c", "USD", "100", "0")
	s.Equal(uint64(1), s.engine.SequenceNumber())

	s.store.FailWith = nil
	resp = s.cash("m3", "c", "USD", "50")
	s.Equal(uint64(2), resp.SequenceNumber)
	s.requireBalance("c", "USD", "150", "0")
}

func (s *EngineTestSuite) TestTrustedClientFromConfig() {
	s.True(s.factory.Balances().IsTrusted("mm"))
	resp := s.limit("t1", "mm", "1.1", "10")
	s.Equal(model.StatusInOrderBook, resp.Orders[0].Status)
	s.requireBalance("mm", "USD", "0", "0")
}

func (s *EngineTestSuite) TestExpiredOrdersAreCancelled() {
	s.cash("m1", "c", "USD", "100")
	expiry := s.clock.Add(time.Minute)
	resp := s.process("gtd", messages.TypeLimitOrder, &messages.LimitOrderRequest{
		ExternalID:  "gtd",
		ClientID:    "c",
		AssetPairID: "EURUSD",
		Price:       "1",
		Volume:      "10",
		TimeInForce: "GTD",
		ExpiryTime:  &expiry,
	})
	s.Require().Equal(model.StatusInOrderBook, resp.Orders[0].Status)
	s.Nil(s.engine.expiredOrdersMessage(s.clock))

	s.clock = expiry.Add(time.Second)
	w := s.engine.expiredOrdersMessage(s.clock)
	s.Require().NotNil(w)
	s.Require().NoError(s.engine.enqueueInternal(s.ctx, w))
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	out, err := w.Wait(ctx)
	s.Require().NoError(err)

	s.Require().Len(out.Orders, 1)
	s.Equal(model.StatusExpired, out.Orders[0].Status)
	s.requireBalance("c", "USD", "100", "0")
	s.Equal(0, s.factory.Expiry().Len())
}

func (s *EngineTestSuite) TestStopRejectsNewMessages() {
	s.Require().NoError(s.engine.Stop())
	err := s.engine.Submit(s.ctx, messages.NewMessageWrapper("", "", messages.TypeCashInOut, &messages.CashInOutRequest{}, s.clock))
	s.ErrorIs(err, ErrNotRunning)
	s.ErrorIs(s.engine.Stop(), ErrNotRunning)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.PreprocessWorkers = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.PersistTimeout = 0
	require.Error(t, cfg.Validate())
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }
	fail := func() error { return errors.New("boom") }

	require.Error(t, cb.Call(fail))
	require.Error(t, cb.Call(fail))
	require.Equal(t, int32(StateOpen), cb.State())
	require.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitBreakerOpen)

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Call(func() error { return nil }))
	require.Equal(t, int32(StateClosed), cb.State())
}

func TestSnapshotStoreReplacesPairs(t *testing.T) {
	store := NewSnapshotStore()
	store.Update([]*orderbook.Snapshot{{AssetPairID: "B"}, {AssetPairID: "A"}})
	store.Update([]*orderbook.Snapshot{{AssetPairID: "A", Bids: []orderbook.PriceLevel{{Orders: 1}}}})

	require.Equal(t, []string{"A", "B"}, store.Pairs())
	a, ok := store.Book("A")
	require.True(t, ok)
	require.Len(t, a.Bids, 1)
	_, ok = store.Book("C")
	require.False(t, ok)
}
