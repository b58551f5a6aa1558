package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	apierrors "github.com/Aidin1998/pincex_matching/pkg/errors"
)

const maxDepth = 500

// BookReader serves published book snapshots.
type BookReader interface {
	Book(assetPairID string) (*orderbook.Snapshot, bool)
}

// BalanceReader serves committed balances.
type BalanceReader interface {
	ClientBalances(clientID string) []model.AssetBalance
}

// PairLookup resolves asset pairs.
type PairLookup interface {
	AssetPair(id string) (*model.AssetPair, bool)
}

// MarketDataHandler serves read-only views. It never touches the business
// goroutine.
type MarketDataHandler struct {
	books    BookReader
	balances BalanceReader
	pairs    PairLookup
}

// NewMarketDataHandler creates the handler.
func NewMarketDataHandler(books BookReader, balances BalanceReader, pairs PairLookup) *MarketDataHandler {
	return &MarketDataHandler{books: books, balances: balances, pairs: pairs}
}

// GetOrderBook godoc
// @Summary Get order book depth
// @Tags Market Data
// @Param pair path string true "Asset pair"
// @Param depth query int false "Levels per side" default(50)
// @Success 200 {object} orderbook.Snapshot
// @Failure 404 {object} apierrors.ProblemDetails
// @Router /v1/orderbooks/{pair} [get]
func (h *MarketDataHandler) GetOrderBook(c *gin.Context) {
	pair := c.Param("pair")
	if _, ok := h.pairs.AssetPair(pair); !ok {
		problem(c, apierrors.NewInvalidSymbolError("unknown asset pair "+pair, c.Request.URL.Path))
		return
	}
	depth := 0
	if raw := c.Query("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxDepth {
			problem(c, apierrors.NewValidationError("depth must be between 1 and "+strconv.Itoa(maxDepth), c.Request.URL.Path))
			return
		}
		depth = n
	}
	snap, ok := h.books.Book(pair)
	if !ok {
		snap = &orderbook.Snapshot{AssetPairID: pair, Bids: []orderbook.PriceLevel{}, Asks: []orderbook.PriceLevel{}}
	}
	c.JSON(http.StatusOK, snap.Truncate(depth))
}

// GetBalances godoc
// @Summary Get a client's balances
// @Tags Balances
// @Param client path string true "Client id"
// @Router /v1/balances/{client} [get]
func (h *MarketDataHandler) GetBalances(c *gin.Context) {
	client := c.Param("client")
	balances := h.balances.ClientBalances(client)
	if balances == nil {
		balances = []model.AssetBalance{}
	}
	c.JSON(http.StatusOK, gin.H{"client_id": client, "balances": balances})
}
