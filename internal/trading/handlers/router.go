package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/middleware"
)

// HealthChecker reports engine liveness.
type HealthChecker interface {
	Running() bool
	Stats() map[string]interface{}
}

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	AllowOrigins []string
	// ServiceName names the server spans.
	ServiceName string
	// RateLimiter, when set, limits requests per IP and engine-bound
	// messages globally.
	RateLimiter *middleware.RateLimiter
}

// NewRouter registers every route on a new gin engine.
// stream may be nil.
func NewRouter(logger *zap.Logger, cfg RouterConfig, trading *TradingHandler, market *MarketDataHandler, stream *StreamHandler, health HealthChecker) *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pincex-matching"
	}
	router.Use(otelgin.Middleware(cfg.ServiceName))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", headerMessageID, headerRequestID},
		ExposeHeaders: []string{"Content-Length", headerMessageID},
		MaxAge:        12 * time.Hour,
	}))

	if cfg.RateLimiter != nil {
		router.Use(cfg.RateLimiter.RequestRateLimitMiddleware())
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		stats := health.Stats()
		if !health.Running() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped", "engine": stats})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "engine": stats})
	})

	v1 := router.Group("/v1")
	{
		orders := v1.Group("/orders")
		if cfg.RateLimiter != nil {
			orders.Use(cfg.RateLimiter.OrderRateLimitMiddleware())
		}
		orders.POST("/limit", trading.PlaceLimitOrder)
		orders.POST("/market", trading.PlaceMarketOrder)
		orders.POST("/stop", trading.PlaceStopLimitOrder)
		orders.POST("/multi", trading.PlaceMultiLimitOrder)
		orders.POST("/cancel", trading.CancelOrders)

		v1.POST("/balances/adjust", trading.CashInOut)
		v1.GET("/balances/:client", market.GetBalances)
		v1.GET("/orderbooks/:pair", market.GetOrderBook)
		if stream != nil {
			v1.GET("/stream", stream.Stream)
		}
	}
	return router
}
