// Package config loads the service configuration from a YAML file,
// PINCEX_ environment variables and built-in defaults.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/engine"
	"github.com/Aidin1998/pincex_matching/internal/trading/eventjournal"
	"github.com/Aidin1998/pincex_matching/internal/trading/fee"
	"github.com/Aidin1998/pincex_matching/internal/trading/messaging"
	"github.com/Aidin1998/pincex_matching/internal/trading/middleware"
	"github.com/Aidin1998/pincex_matching/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. PINCEX_HTTP_ADDR.
const EnvPrefix = "PINCEX"

// Config is the full service configuration.
type Config struct {
	Log       LogConfig           `mapstructure:"log"`
	Engine    engine.Config       `mapstructure:"engine"`
	Fees      fee.Config          `mapstructure:"fees"`
	Storage   StorageConfig       `mapstructure:"storage"`
	Dedup     DedupConfig         `mapstructure:"dedup"`
	RefData   RefDataConfig       `mapstructure:"refdata"`
	Kafka     KafkaConfig         `mapstructure:"kafka"`
	Journal   eventjournal.Config `mapstructure:"journal"`
	HTTP      HTTPConfig          `mapstructure:"http"`
	Telemetry telemetry.Config    `mapstructure:"telemetry"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig configures the Badger store. An empty Path keeps state in
// memory only.
type StorageConfig struct {
	Path         string        `mapstructure:"path"`
	SyncWrites   bool          `mapstructure:"sync_writes"`
	ProcessedTTL time.Duration `mapstructure:"processed_ttl"`
}

// DedupConfig selects where processed message ids are remembered.
type DedupConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// RefDataConfig selects the source of assets and asset pairs.
type RefDataConfig struct {
	Source          string        `mapstructure:"source"`
	Path            string        `mapstructure:"path"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// KafkaConfig enables the Kafka event publisher.
type KafkaConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	messaging.KafkaConfig `mapstructure:",squash"`
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`

	RateLimit middleware.RateLimitConfig `mapstructure:"rate_limit"`
}

const (
	DedupMemory = "memory"
	DedupRedis  = "redis"

	RefDataFile = "file"
	RefDataDB   = "db"
)

func setDefaults(v *viper.Viper) {
	e := engine.DefaultConfig()
	k := messaging.DefaultKafkaConfig()
	j := eventjournal.DefaultConfig()
	rl := middleware.DefaultRateLimitConfig()
	defaults := map[string]any{
		"log.level":  "info",
		"log.format": "json",

		"engine.preprocess_workers":    e.PreprocessWorkers,
		"engine.preprocess_queue_size": e.PreprocessQueueSize,
		"engine.business_queue_size":   e.BusinessQueueSize,
		"engine.expiry_interval":       e.ExpiryInterval,
		"engine.max_stop_triggers":     e.MaxStopTriggers,
		"engine.snapshot_depth":        e.SnapshotDepth,
		"engine.persist_timeout":       e.PersistTimeout,
		"engine.publish_timeout":       e.PublishTimeout,
		"engine.trusted_clients":       []string{},

		"fees.default_maker_fee": "0",
		"fees.default_taker_fee": "0",
		"fees.target_client_id":  "",

		"storage.path":          "",
		"storage.sync_writes":   true,
		"storage.processed_ttl": 24 * time.Hour,

		"dedup.backend":        DedupMemory,
		"dedup.ttl":            24 * time.Hour,
		"dedup.redis_addr":     "localhost:6379",
		"dedup.redis_password": "",
		"dedup.redis_db":       0,
		"dedup.key_prefix":     "pincex:processed:",

		"refdata.source":           RefDataFile,
		"refdata.path":             "refdata.yaml",
		"refdata.driver":           "sqlite",
		"refdata.dsn":              "",
		"refdata.auto_migrate":     false,
		"refdata.refresh_interval": time.Minute,

		"kafka.enabled":       false,
		"kafka.brokers":       []string{},
		"kafka.topic":         "pincex.execution",
		"kafka.batch_size":    k.BatchSize,
		"kafka.batch_timeout": k.BatchTimeout,
		"kafka.write_timeout": k.WriteTimeout,
		"kafka.required_acks": k.RequiredAcks,
		"kafka.compression":   k.Compression,
		"kafka.max_attempts":  k.MaxAttempts,
		"kafka.partition_key": k.PartitionKey,

		"journal.enabled":        false,
		"journal.file_path":      j.FilePath,
		"journal.max_size_bytes": j.MaxSizeBytes,
		"journal.max_backups":    j.MaxBackups,

		"http.addr":             ":8080",
		"http.request_timeout":  10 * time.Second,
		"http.shutdown_timeout": 15 * time.Second,
		"http.allow_origins":    []string{"*"},

		"http.rate_limit.enabled":                  false,
		"http.rate_limit.ip_requests_per_second":   rl.IPRequestsPerSecond,
		"http.rate_limit.ip_request_burst":         rl.IPRequestBurst,
		"http.rate_limit.global_orders_per_second": rl.GlobalOrdersPerSecond,
		"http.rate_limit.global_order_burst":       rl.GlobalOrderBurst,
		"http.rate_limit.cleanup_interval":         rl.CleanupInterval,
		"http.rate_limit.limiter_ttl":              rl.LimiterTTL,

		"telemetry.tracing": false,
		"telemetry.metrics": false,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// New returns a viper instance with defaults and environment overrides set
// up. path may be empty.
func New(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// Load reads path (optional, skipped when missing) and returns the decoded
// and validated configuration.
func Load(path string) (*Config, *viper.Viper, error) {
	v := New(path)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals and validates the current settings of v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the file on change and hands the new configuration to fn.
// Invalid edits are logged and ignored.
func Watch(v *viper.Viper, logger *zap.Logger, fn func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Decode(v)
		if err != nil {
			logger.Warn("ignoring invalid configuration change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("configuration reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		fn(cfg)
	})
	v.WatchConfig()
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		numberToDecimalHook(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// numberToDecimalHook accepts YAML numbers for decimal fields; strings go
// through decimal's UnmarshalText.
func numberToDecimalHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(decimal.Decimal{})
	return func(from, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}
		switch n := data.(type) {
		case float64:
			return decimal.NewFromFloat(n), nil
		case float32:
			return decimal.NewFromFloat32(n), nil
		case int:
			return decimal.NewFromInt(int64(n)), nil
		case int64:
			return decimal.NewFromInt(n), nil
		}
		return data, nil
	}
}

// Validate rejects values the service cannot start with.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if c.Fees.DefaultMakerFee.IsNegative() || c.Fees.DefaultTakerFee.IsNegative() {
		return fmt.Errorf("fees: default fees must not be negative")
	}
	switch c.Dedup.Backend {
	case DedupMemory:
	case DedupRedis:
		if c.Dedup.RedisAddr == "" {
			return fmt.Errorf("dedup: redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("dedup: unknown backend %q", c.Dedup.Backend)
	}
	if c.Dedup.TTL <= 0 {
		return fmt.Errorf("dedup: ttl must be positive, got %s", c.Dedup.TTL)
	}
	switch c.RefData.Source {
	case RefDataFile:
		if c.RefData.Path == "" {
			return fmt.Errorf("refdata: path is required for the file source")
		}
	case RefDataDB:
		if c.RefData.Driver != "postgres" && c.RefData.Driver != "sqlite" {
			return fmt.Errorf("refdata: unsupported driver %q", c.RefData.Driver)
		}
		if c.RefData.DSN == "" {
			return fmt.Errorf("refdata: dsn is required for the db source")
		}
	default:
		return fmt.Errorf("refdata: unknown source %q", c.RefData.Source)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka: brokers and topic are required when enabled")
	}
	if c.Journal.Enabled && c.Journal.FilePath == "" {
		return fmt.Errorf("journal: file_path is required when enabled")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http: addr is required")
	}
	if rl := c.HTTP.RateLimit; rl.Enabled && (rl.IPRequestsPerSecond <= 0 || rl.GlobalOrdersPerSecond <= 0) {
		return fmt.Errorf("http: rate limits must be positive when enabled")
	}
	return nil
}
