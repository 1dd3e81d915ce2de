package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/log"
	"github.com/venue-app/pricingservice/internal/metrics"
)

// Config represents database pool configuration
type Config struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultConfig returns a default database configuration
func DefaultConfig() Config {
	return Config{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// Store owns the connection pool shared by the document repositories
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info(ctx, "Database pool created successfully",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
		zap.Duration("max_conn_lifetime", poolConfig.MaxConnLifetime))

	return &Store{db: pool}, nil
}

// Migrate creates the document tables if they do not exist. Entity tables
// are owned by the venue catalogue and only created here for local runs.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Health checks if the database pool is healthy
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.Ping(ctx)
}

// RecordPoolStats publishes pool gauges
func (s *Store) RecordPoolStats() {
	stat := s.db.Stat()
	metrics.DatabaseConnectionsActive.Set(float64(stat.AcquiredConns()))
	metrics.DatabaseConnectionsIdle.Set(float64(stat.IdleConns()))
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// Rules returns the pricing rule repository
func (s *Store) Rules() *RuleRepository { return &RuleRepository{db: s.db} }

// SurgeConfigs returns the surge config repository
func (s *Store) SurgeConfigs() *SurgeConfigRepository { return &SurgeConfigRepository{db: s.db} }

// Observations returns the demand history repository
func (s *Store) Observations() *ObservationRepository { return &ObservationRepository{db: s.db} }

// Directory returns the read-only entity directory
func (s *Store) Directory() *Directory { return &Directory{db: s.db} }

func observe(operation string, start time.Time) {
	metrics.RecordDatabaseQuery(operation, time.Since(start))
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pricing_rules (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		level TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		surge_config_id TEXT,
		approval_status TEXT NOT NULL,
		is_active BOOLEAN NOT NULL,
		effective_from TIMESTAMPTZ NOT NULL,
		effective_to TIMESTAMPTZ,
		doc JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pricing_rules_target ON pricing_rules(level, entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pricing_rules_surge_config ON pricing_rules(surge_config_id)`,
	`CREATE TABLE IF NOT EXISTS surge_configs (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		level TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		is_active BOOLEAN NOT NULL,
		effective_from TIMESTAMPTZ NOT NULL,
		effective_to TIMESTAMPTZ,
		doc JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS demand_observations (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		sub_location_id TEXT NOT NULL,
		hour_start TIMESTAMPTZ NOT NULL,
		doc JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_demand_observations_hour ON demand_observations(sub_location_id, hour_start)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		default_hourly_rate NUMERIC(12, 2)
	)`,
	`CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		timezone TEXT,
		default_hourly_rate NUMERIC(12, 2)
	)`,
	`CREATE TABLE IF NOT EXISTS sublocations (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL REFERENCES locations(id),
		timezone TEXT,
		max_capacity INTEGER,
		default_hourly_rate NUMERIC(12, 2)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		sub_location_id TEXT NOT NULL REFERENCES sublocations(id),
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NOT NULL,
		grace_period_before_minutes INTEGER NOT NULL DEFAULT 0,
		grace_period_after_minutes INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_sublocation ON events(sub_location_id, start_date)`,
}
