package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Engine.PreprocessWorkers)
	assert.Equal(t, time.Second, cfg.Engine.ExpiryInterval)
	assert.Equal(t, DedupMemory, cfg.Dedup.Backend)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "execution", cfg.Kafka.PartitionKey)
	assert.True(t, cfg.Fees.DefaultTakerFee.IsZero())
	assert.False(t, cfg.Journal.Enabled)
	assert.EqualValues(t, 100*1024*1024, cfg.Journal.MaxSizeBytes)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
engine:
  preprocess_workers: 2
  expiry_interval: 250ms
  trusted_clients: [mm1, mm2]
fees:
  default_taker_fee: 0.002
  default_maker_fee: "0.001"
  target_client_id: fees
kafka:
  enabled: true
  brokers: [k1:9092]
  topic: events
`)
	t.Setenv("PINCEX_HTTP_ADDR", ":9090")
	t.Setenv("PINCEX_DEDUP_TTL", "1h")

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Engine.PreprocessWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.ExpiryInterval)
	assert.Equal(t, []string{"mm1", "mm2"}, cfg.Engine.TrustedClients)
	assert.True(t, decimal.RequireFromString("0.002").Equal(cfg.Fees.DefaultTakerFee))
	assert.True(t, decimal.RequireFromString("0.001").Equal(cfg.Fees.DefaultMakerFee))
	assert.Equal(t, "fees", cfg.Fees.TargetClientID)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "events", cfg.Kafka.Topic)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, time.Hour, cfg.Dedup.TTL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown dedup backend":  "dedup:\n  backend: etcd\n",
		"kafka without brokers":  "kafka:\n  enabled: true\n",
		"db refdata without dsn": "refdata:\n  source: db\n",
		"bad refdata driver":     "refdata:\n  source: db\n  driver: mysql\n  dsn: x\n",
		"zero workers":           "engine:\n  preprocess_workers: 0\n",
		"negative fee":           "fees:\n  default_taker_fee: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	_, _, err := Load(writeConfig(t, "engine: [unclosed"))
	require.Error(t, err)
}
