package engine

import (
	"fmt"
	"time"
)

// Config sizes the pipeline.
type Config struct {
	PreprocessWorkers   int           `mapstructure:"preprocess_workers"`
	PreprocessQueueSize int           `mapstructure:"preprocess_queue_size"`
	BusinessQueueSize   int           `mapstructure:"business_queue_size"`
	ExpiryInterval      time.Duration `mapstructure:"expiry_interval"`
	MaxStopTriggers     int           `mapstructure:"max_stop_triggers"`
	SnapshotDepth       int           `mapstructure:"snapshot_depth"`
	PersistTimeout      time.Duration `mapstructure:"persist_timeout"`
	PublishTimeout      time.Duration `mapstructure:"publish_timeout"`
	TrustedClients      []string      `mapstructure:"trusted_clients"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PreprocessWorkers:   4,
		PreprocessQueueSize: 10000,
		BusinessQueueSize:   10000,
		ExpiryInterval:      time.Second,
		MaxStopTriggers:     10000,
		SnapshotDepth:       50,
		PersistTimeout:      5 * time.Second,
		PublishTimeout:      2 * time.Second,
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.PreprocessWorkers <= 0:
		return fmt.Errorf("engine: preprocess_workers must be positive, got %d", c.PreprocessWorkers)
	case c.PreprocessQueueSize <= 0:
		return fmt.Errorf("engine: preprocess_queue_size must be positive, got %d", c.PreprocessQueueSize)
	case c.BusinessQueueSize <= 0:
		return fmt.Errorf("engine: business_queue_size must be positive, got %d", c.BusinessQueueSize)
	case c.ExpiryInterval <= 0:
		return fmt.Errorf("engine: expiry_interval must be positive, got %s", c.ExpiryInterval)
	case c.PersistTimeout <= 0:
		return fmt.Errorf("engine: persist_timeout must be positive, got %s", c.PersistTimeout)
	}
	return nil
}
