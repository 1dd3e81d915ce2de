package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/venue-app/pricingservice/internal/secrets"
)

// Config holds all configuration for the pricing service
type Config struct {
	AppName string `mapstructure:"app_name"`
	// SecretsDir holds one file per credential (postgres.dsn, redis.password)
	SecretsDir string `mapstructure:"secrets_dir"`

	HTTP     HTTPConfig     `mapstructure:"http"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Demand   DemandConfig   `mapstructure:"demand"`
	Surge    SurgeConfig    `mapstructure:"surge"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Log      LogConfig      `mapstructure:"log"`
}

// HTTPConfig holds API server configuration
type HTTPConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimitPerMinute is the per-client budget on /v1 routes; 0 disables
	// it. Needs Redis.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

// MetricsConfig holds the metrics server configuration
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis configuration. An empty address disables the
// shared throttle.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// KafkaConfig holds broker, topic and consumer group settings
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	ClientID          string   `mapstructure:"client_id"`
	BookingTopic      string   `mapstructure:"booking_topic"`
	ObservationTopic  string   `mapstructure:"observation_topic"`
	AggregatorGroupID string   `mapstructure:"aggregator_group_id"`
	UpdaterGroupID    string   `mapstructure:"updater_group_id"`
}

// DemandConfig tunes the demand aggregator
type DemandConfig struct {
	ThrottleWindow  time.Duration `mapstructure:"throttle_window"`
	DefaultCapacity int           `mapstructure:"default_capacity"`
	HistoryDays     int           `mapstructure:"history_days"`
	Shards          int           `mapstructure:"shards"`
	QueueSize       int           `mapstructure:"queue_size"`
}

// SurgeConfig holds surge loop defaults
type SurgeConfig struct {
	DefaultDurationHours int  `mapstructure:"default_duration_hours"`
	UpdaterEnabled       bool `mapstructure:"updater_enabled"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SamplingRatio  float64 `mapstructure:"sampling_ratio"`
	Environment    string  `mapstructure:"environment"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() (*Config, error) {
	return unmarshal(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.resolveSecrets(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// resolveSecrets fills credentials the config file left empty from
// PRICING_* variables, then from files under SecretsDir.
func (c *Config) resolveSecrets(ctx context.Context) error {
	src := secrets.Chain{secrets.NewEnvSource("pricing")}
	if c.SecretsDir != "" {
		src = append(src, secrets.NewFileSource(c.SecretsDir))
	}
	if err := secrets.Fill(ctx, src, "postgres.dsn", &c.Postgres.DSN); err != nil {
		return err
	}
	return secrets.Fill(ctx, src, "redis.password", &c.Redis.Password)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "pricing-service")
	v.SetDefault("secrets_dir", "")
	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.rate_limit_per_minute", 0)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.auto_migrate", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "pricing-service")
	v.SetDefault("kafka.booking_topic", "booking.lifecycle")
	v.SetDefault("kafka.observation_topic", "demand.observations")
	v.SetDefault("kafka.aggregator_group_id", "pricing-demand-aggregator")
	v.SetDefault("kafka.updater_group_id", "pricing-surge-updater")
	v.SetDefault("demand.throttle_window", 5*time.Minute)
	v.SetDefault("demand.default_capacity", 100)
	v.SetDefault("demand.history_days", 30)
	v.SetDefault("demand.shards", 8)
	v.SetDefault("demand.queue_size", 256)
	v.SetDefault("surge.default_duration_hours", 1)
	v.SetDefault("surge.updater_enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.sampling_ratio", 1.0)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.AppName == "" {
		return fmt.Errorf("app_name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.HTTP.RateLimitPerMinute < 0 {
		return fmt.Errorf("http.rate_limit_per_minute must not be negative")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("postgres.max_conns must be greater than 0")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Kafka.AggregatorGroupID == c.Kafka.UpdaterGroupID {
		return fmt.Errorf("kafka aggregator and updater must use distinct consumer groups")
	}
	if c.Demand.ThrottleWindow < 0 {
		return fmt.Errorf("demand.throttle_window must not be negative")
	}
	if c.Demand.DefaultCapacity <= 0 {
		return fmt.Errorf("demand.default_capacity must be greater than 0")
	}
	if c.Demand.Shards <= 0 || c.Demand.QueueSize <= 0 {
		return fmt.Errorf("demand.shards and demand.queue_size must be greater than 0")
	}
	if c.Surge.DefaultDurationHours <= 0 {
		return fmt.Errorf("surge.default_duration_hours must be greater than 0")
	}
	return nil
}
