package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/balance"
	"github.com/Aidin1998/pincex_matching/internal/trading/config"
	"github.com/Aidin1998/pincex_matching/internal/trading/engine"
	"github.com/Aidin1998/pincex_matching/internal/trading/eventjournal"
	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/fee"
	"github.com/Aidin1998/pincex_matching/internal/trading/handlers"
	"github.com/Aidin1998/pincex_matching/internal/trading/messaging"
	"github.com/Aidin1998/pincex_matching/internal/trading/middleware"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_matching/internal/trading/persistence"
	"github.com/Aidin1998/pincex_matching/internal/trading/refdata"
	"github.com/Aidin1998/pincex_matching/pkg/logger"
	"github.com/Aidin1998/pincex_matching/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := zap.NewAtomicLevelAt(logger.ParseLevel(cfg.Log.Level))
	zapLogger := logger.NewWithLevel(os.Stdout, level, cfg.Log.Format)
	defer func() { _ = zapLogger.Sync() }()

	config.Watch(v, zapLogger, func(next *config.Config) {
		level.SetLevel(logger.ParseLevel(next.Log.Level))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zapLogger); err != nil {
		zapLogger.Fatal("Server failed", zap.Error(err))
	}
	zapLogger.Info("Server exited properly")
}

func run(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zapLogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Reference data
	loader, err := newRefDataLoader(cfg.RefData)
	if err != nil {
		return err
	}
	cache := refdata.NewCache(zapLogger, loader, cfg.RefData.RefreshInterval)
	if err := cache.Refresh(ctx); err != nil {
		return err
	}
	go cache.Run(ctx)

	// Durable state
	store, err := persistence.OpenBadger(zapLogger, persistence.BadgerOptions{
		Path:         cfg.Storage.Path,
		ProcessedTTL: cfg.Storage.ProcessedTTL,
		SyncWrites:   cfg.Storage.SyncWrites,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			zapLogger.Error("Failed to close store", zap.Error(err))
		}
	}()
	state, err := store.Load(ctx)
	if err != nil {
		return err
	}

	balances := balance.NewBalancesHolder(zapLogger, cfg.Engine.TrustedClients)
	books := orderbook.NewOrderBooksHolder()
	stopBooks := orderbook.NewStopOrderBooksHolder()
	expiry := orderbook.NewExpiryOrdersQueue()
	state.Restore(balances, books, stopBooks, expiry)
	zapLogger.Info("State restored",
		zap.Uint64("sequence_number", state.SequenceNumber),
		zap.Int("balances", len(state.Balances)),
		zap.Int("order_books", len(state.OrderBooks)),
		zap.Int("stop_order_books", len(state.StopOrderBooks)))

	dedup, closeDedup, err := newDeduplicator(ctx, zapLogger, cfg.Dedup, store)
	if err != nil {
		return err
	}
	defer closeDedup()

	// Events go to websocket subscribers and, when enabled, Kafka and the
	// local journal.
	stream := messaging.NewMemoryPublisher(1000)
	publishers := messaging.Fanout{stream}
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := messaging.NewKafkaPublisher(zapLogger, cfg.Kafka.KafkaConfig)
		if err != nil {
			return err
		}
		defer kafkaPublisher.Close()
		publishers = append(publishers, kafkaPublisher)
	}
	if cfg.Journal.Enabled {
		journal, err := eventjournal.NewFileJournal(cfg.Journal, zapLogger)
		if err != nil {
			return err
		}
		defer journal.Close()
		publishers = append(publishers, journal)
	}

	factory := execution.NewContextFactory(zapLogger, cache, balances, books, stopBooks, expiry)
	eng := engine.New(cfg.Engine, engine.Deps{
		Logger:       zapLogger,
		Factory:      factory,
		Persister:    store,
		Publisher:    publishers,
		Dedup:        dedup,
		Fees:         fee.NewCalculator(cfg.Fees),
		LastSequence: state.SequenceNumber,
	})
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := eng.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
			zapLogger.Error("Failed to stop engine", zap.Error(err))
		}
	}()

	routerCfg := handlers.RouterConfig{AllowOrigins: cfg.HTTP.AllowOrigins}
	if cfg.HTTP.RateLimit.Enabled {
		routerCfg.RateLimiter = middleware.NewRateLimiter(cfg.HTTP.RateLimit, zapLogger)
		defer routerCfg.RateLimiter.Stop()
	}
	router := handlers.NewRouter(zapLogger, routerCfg,
		handlers.NewTradingHandler(zapLogger, eng, cfg.HTTP.RequestTimeout),
		handlers.NewMarketDataHandler(eng.Snapshots(), balances, cache),
		handlers.NewStreamHandler(zapLogger, stream),
		eng)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		zapLogger.Info("Shutting down server...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP shutdown failed", zap.Error(err))
	}
	return nil
}

func newRefDataLoader(cfg config.RefDataConfig) (refdata.Loader, error) {
	if cfg.Source == config.RefDataDB {
		db, err := refdata.OpenDB(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return refdata.NewDBLoader(db, cfg.AutoMigrate)
	}
	return &refdata.FileLoader{Path: cfg.Path}, nil
}

// newDeduplicator puts a fast lookup in front of the durable processed
// records kept by the store.
func newDeduplicator(ctx context.Context, zapLogger *zap.Logger, cfg config.DedupConfig, store *persistence.BadgerPersister) (persistence.Deduplicator, func(), error) {
	if cfg.Backend != config.DedupRedis {
		return persistence.ChainDeduplicator{persistence.NewMemoryDeduplicator(cfg.TTL), store}, func() {}, nil
	}
	redisDedup, err := persistence.NewRedisDeduplicator(ctx, zapLogger, persistence.RedisOptions{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.KeyPrefix,
		TTL:       cfg.TTL,
	})
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := redisDedup.Close(); err != nil {
			zapLogger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	return persistence.ChainDeduplicator{redisDedup, store}, closeFn, nil
}
