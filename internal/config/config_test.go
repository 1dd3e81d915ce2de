package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
postgres:
  dsn: postgres://pricing@localhost:5432/pricing
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
demand:
  throttle_window: 2m
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pricing-service", cfg.AppName)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.Demand.ThrottleWindow)
	assert.Equal(t, 100, cfg.Demand.DefaultCapacity)
	assert.Equal(t, "booking.lifecycle", cfg.Kafka.BookingTopic)
	assert.Equal(t, "pricing-demand-aggregator", cfg.Kafka.AggregatorGroupID)
	assert.Equal(t, "pricing-surge-updater", cfg.Kafka.UpdaterGroupID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://env@localhost/pricing")
	t.Setenv("DEMAND_DEFAULT_CAPACITY", "40")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@localhost/pricing", cfg.Postgres.DSN)
	assert.Equal(t, 40, cfg.Demand.DefaultCapacity)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			AppName:  "pricing-service",
			HTTP:     HTTPConfig{Address: ":8080"},
			Postgres: PostgresConfig{DSN: "postgres://localhost/pricing", MaxConns: 5},
			Kafka:    KafkaConfig{Brokers: []string{"localhost:9092"}, AggregatorGroupID: "a", UpdaterGroupID: "b"},
			Demand:   DemandConfig{ThrottleWindow: time.Minute, DefaultCapacity: 10, Shards: 2, QueueSize: 8},
			Surge:    SurgeConfig{DefaultDurationHours: 1},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing dsn", func(c *Config) { c.Postgres.DSN = "" }},
		{"shared consumer group", func(c *Config) { c.Kafka.UpdaterGroupID = c.Kafka.AggregatorGroupID }},
		{"zero capacity", func(c *Config) { c.Demand.DefaultCapacity = 0 }},
		{"no shards", func(c *Config) { c.Demand.Shards = 0 }},
		{"zero surge duration", func(c *Config) { c.Surge.DefaultDurationHours = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_SecretsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "postgres.dsn"), []byte("postgres://secret@db/pricing\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "redis.password"), []byte("hunter2"), 0o600))
	t.Setenv("SECRETS_DIR", dir)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://secret@db/pricing", cfg.Postgres.DSN)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
}
