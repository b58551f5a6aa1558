package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	streamBuffer = 256
)

// EventSource fans execution events out to stream subscribers.
type EventSource interface {
	Subscribe(buffer int) <-chan *execution.ExecutionEvent
	Unsubscribe(ch <-chan *execution.ExecutionEvent)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// StreamHandler pushes execution events over websocket. Slow clients miss
// events rather than slowing down the engine.
type StreamHandler struct {
	source EventSource
	logger *zap.Logger
}

// NewStreamHandler creates the handler.
func NewStreamHandler(logger *zap.Logger, source EventSource) *StreamHandler {
	return &StreamHandler{source: source, logger: logger.Named("stream")}
}

// eventFilter keeps the events touching a pair and/or a client.
type eventFilter struct {
	pair   string
	client string
}

func (f eventFilter) match(e *execution.ExecutionEvent) bool {
	if f.pair == "" && f.client == "" {
		return true
	}
	pairOK, clientOK := f.pair == "", f.client == ""
	for _, s := range e.OrderBooks {
		if s.AssetPairID == f.pair {
			pairOK = true
		}
	}
	for _, group := range [][]model.OrderWithTrades{e.ClientOrders, e.TrustedClientOrders, e.MarketOrders} {
		for _, ow := range group {
			if ow.Order.AssetPairID == f.pair {
				pairOK = true
			}
			if ow.Order.ClientID == f.client {
				clientOK = true
			}
		}
	}
	for _, b := range e.BalanceUpdates {
		if b.ClientID == f.client {
			clientOK = true
		}
	}
	return pairOK && clientOK
}

// Stream godoc
// @Summary Stream execution events
// @Tags Streaming
// @Param pair query string false "Only events touching this asset pair"
// @Param client query string false "Only events touching this client"
// @Router /v1/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	filter := eventFilter{pair: c.Query("pair"), client: c.Query("client")}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	events := h.source.Subscribe(streamBuffer)
	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, events, filter, done)
	h.source.Unsubscribe(events)
}

// readPump discards client frames and closes done when the peer goes away.
func (h *StreamHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, events <-chan *execution.ExecutionEvent, filter eventFilter, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case <-done:
			return
		case e, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !filter.match(e) {
				continue
			}
			payload, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("failed to encode event", zap.Uint64("sequence_number", e.SequenceNumber), zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
