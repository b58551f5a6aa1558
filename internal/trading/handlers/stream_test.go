package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
)

type chanSource struct {
	ch           chan *execution.ExecutionEvent
	unsubscribed chan struct{}
}

func (s *chanSource) Subscribe(int) <-chan *execution.ExecutionEvent { return s.ch }
func (s *chanSource) Unsubscribe(<-chan *execution.ExecutionEvent)   { close(s.unsubscribed) }

func TestStreamDeliversMatchingEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	src := &chanSource{ch: make(chan *execution.ExecutionEvent, 2), unsubscribed: make(chan struct{})}
	src.ch <- &execution.ExecutionEvent{SequenceNumber: 1, OrderBooks: []*orderbook.Snapshot{{AssetPairID: "BTCUSD"}}}
	src.ch <- &execution.ExecutionEvent{SequenceNumber: 2, OrderBooks: []*orderbook.Snapshot{{AssetPairID: "EURUSD"}}}

	logger := zap.NewNop()
	eng := &fakeEngine{running: true}
	router := NewRouter(logger, RouterConfig{}, NewTradingHandler(logger, eng, 0),
		NewMarketDataHandler(fakeBooks{}, fakeBalances{}, fakePairs{}), NewStreamHandler(logger, src), eng)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?pair=EURUSD"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var got execution.ExecutionEvent
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.EqualValues(t, 2, got.SequenceNumber)

	require.NoError(t, conn.Close())
	select {
	case <-src.unsubscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not released after disconnect")
	}
}

func TestEventFilter(t *testing.T) {
	e := &execution.ExecutionEvent{
		ClientOrders:   []model.OrderWithTrades{{Order: &model.Order{AssetPairID: "EURUSD", ClientID: "c1"}}},
		BalanceUpdates: []model.BalanceUpdate{{ClientID: "c2"}},
	}
	assert.True(t, eventFilter{}.match(e))
	assert.True(t, eventFilter{pair: "EURUSD"}.match(e))
	assert.True(t, eventFilter{client: "c2"}.match(e))
	assert.True(t, eventFilter{pair: "EURUSD", client: "c1"}.match(e))
	assert.False(t, eventFilter{pair: "BTCUSD"}.match(e))
	assert.False(t, eventFilter{pair: "EURUSD", client: "c3"}.match(e))
}
