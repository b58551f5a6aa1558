// Package handlers exposes the matching engine over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/engine"
	"github.com/Aidin1998/pincex_matching/internal/trading/messages"
	apierrors "github.com/Aidin1998/pincex_matching/pkg/errors"
)

const (
	headerMessageID = "X-Message-ID"
	headerRequestID = "X-Request-ID"
)

// Processor runs one message through the engine and returns its response.
type Processor interface {
	Process(ctx context.Context, w *messages.MessageWrapper) (*messages.Response, error)
}

// TradingHandler accepts order, cancel and balance messages.
type TradingHandler struct {
	engine  Processor
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewTradingHandler creates the handler. timeout bounds the wait for the
// engine's response.
func NewTradingHandler(logger *zap.Logger, p Processor, timeout time.Duration) *TradingHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TradingHandler{
		engine:  p,
		logger:  logger.Named("http"),
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PlaceLimitOrder godoc
// @Summary Place a limit order
// @Tags Trading
// @Accept json
// @Produce json
// @Param request body messages.LimitOrderRequest true "Limit order"
// @Success 200 {object} messages.Response
// @Failure 400 {object} apierrors.ProblemDetails
// @Router /v1/orders/limit [post]
func (h *TradingHandler) PlaceLimitOrder(c *gin.Context) {
	var req messages.LimitOrderRequest
	if !h.bind(c, &req) {
		return
	}
	h.submit(c, req.MessageID, messages.TypeLimitOrder, &req)
}

// PlaceMarketOrder godoc
// @Summary Place a market order
// @Tags Trading
// @Router /v1/orders/market [post]
func (h *TradingHandler) PlaceMarketOrder(c *gin.Context) {
	var req messages.MarketOrderRequest
	if !h.bind(c, &req) {
		return
	}
	h.submit(c, req.MessageID, messages.TypeMarketOrder, &req)
}

// PlaceStopLimitOrder godoc
// @Summary Place a stop-limit order
// @Tags Trading
// @Router /v1/orders/stop [post]
func (h *TradingHandler) PlaceStopLimitOrder(c *gin.Context) {
	var req messages.StopLimitOrderRequest
	if !h.bind(c, &req) {
		return
	}
	h.submit(c, req.MessageID, messages.TypeStopLimitOrder, &req)
}

// PlaceMultiLimitOrder godoc
// @Summary Replace a client's quotes on one pair
// @Tags Trading
// @Router /v1/orders/multi [post]
func (h *TradingHandler) PlaceMultiLimitOrder(c *gin.Context) {
	var req messages.MultiLimitOrderRequest
	if !h.bind(c, &req) {
		return
	}
	h.submit(c, req.MessageID, messages.TypeMultiLimitOrder, &req)
}

// CancelOrders godoc
// @Summary Cancel resting orders
// @Tags Trading
// @Router /v1/orders/cancel [post]
func (h *TradingHandler) CancelOrders(c *gin.Context) {
	var req messages.CancelRequest
	if !h.bind(c, &req) {
		return
	}
	h.submit(c, req.MessageID, messages.TypeLimitOrderCancel, &req)
}

// CashInOut godoc
// @Summary Deposit to or withdraw from a balance
// @Tags Balances
// @Router /v1/balances/adjust [post]
func (h *TradingHandler) CashInOut(c *gin.Context) {
	var req messages.CashInOutRequest
	if !h.bind(c, &req) {
		return
	}
	h.submit(c, req.MessageID, messages.TypeCashInOut, &req)
}

func (h *TradingHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Debug("invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
		problem(c, apierrors.NewValidationError("invalid request body: "+err.Error(), c.Request.URL.Path))
		return false
	}
	return true
}

func (h *TradingHandler) submit(c *gin.Context, messageID string, t messages.MessageType, req any) {
	if messageID == "" {
		messageID = c.GetHeader(headerMessageID)
	}
	w := messages.NewMessageWrapper(messageID, c.GetHeader(headerRequestID), t, req, h.now())
	c.Header(headerMessageID, w.ID)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	resp, err := h.engine.Process(ctx, w)
	if err != nil {
		if errors.Is(err, engine.ErrNotRunning) || errors.Is(err, context.DeadlineExceeded) {
			problem(c, apierrors.NewServiceUnavailableError(err.Error(), c.Request.URL.Path))
			return
		}
		h.logger.Error("message processing failed", zap.String("message_id", w.ID), zap.Error(err))
		problem(c, apierrors.NewInternalError(err.Error(), c.Request.URL.Path))
		return
	}
	writeResponse(c, resp)
}

func writeResponse(c *gin.Context, resp *messages.Response) {
	instance := c.Request.URL.Path
	switch resp.Status {
	case messages.StatusOK:
		c.JSON(http.StatusOK, resp)
	case messages.StatusRejected:
		c.JSON(http.StatusUnprocessableEntity, resp)
	case messages.StatusBadRequest:
		problem(c, apierrors.NewValidationError(resp.Message, instance).WithExtra("message_id", resp.MessageID))
	case messages.StatusDuplicate:
		problem(c, apierrors.NewDuplicateMessageError("message "+resp.MessageID+" was already processed", instance).
			WithExtra("message_id", resp.MessageID))
	case messages.StatusUnavailable:
		problem(c, apierrors.NewServiceUnavailableError(resp.Message, instance))
	default:
		problem(c, apierrors.NewInternalError(resp.Message, instance).WithExtra("message_id", resp.MessageID))
	}
}

func problem(c *gin.Context, p *apierrors.ProblemDetails) {
	if id := c.GetHeader(headerRequestID); id != "" {
		p = p.WithTraceID(id)
	}
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(p.Status, p)
}
