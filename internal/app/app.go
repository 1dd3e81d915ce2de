package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/venue-app/pricingservice/internal/api"
	"github.com/venue-app/pricingservice/internal/approval"
	"github.com/venue-app/pricingservice/internal/audit"
	"github.com/venue-app/pricingservice/internal/cache"
	"github.com/venue-app/pricingservice/internal/circuitbreaker"
	"github.com/venue-app/pricingservice/internal/config"
	"github.com/venue-app/pricingservice/internal/demand"
	"github.com/venue-app/pricingservice/internal/events"
	"github.com/venue-app/pricingservice/internal/log"
	"github.com/venue-app/pricingservice/internal/metrics"
	"github.com/venue-app/pricingservice/internal/pricing"
	"github.com/venue-app/pricingservice/internal/ratelimit"
	"github.com/venue-app/pricingservice/internal/repository/postgres"
	"github.com/venue-app/pricingservice/internal/retry"
	"github.com/venue-app/pricingservice/internal/surge"
	"github.com/venue-app/pricingservice/internal/tracing"
)

const poolStatsInterval = 15 * time.Second

// App represents the application
type App struct {
	config *config.Config
	logger *zap.Logger

	store    *postgres.Store
	cache    *cache.Cache
	producer sarama.SyncProducer

	dispatcher          *demand.Dispatcher
	janitor             *demand.Janitor
	bookingConsumer     *events.Consumer
	observationConsumer *events.Consumer

	apiServer       *api.Server
	metricsServer   *metrics.Server
	shutdownTracing func(context.Context) error
}

// New creates a new application instance. Everything it opened is released
// again if a later step fails.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if err := log.Init(cfg.Log.Level, cfg.Log.Encoding); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := log.Logger()

	logger.Info("Initializing pricing service application",
		zap.String("app_name", cfg.AppName),
		zap.String("http_address", cfg.HTTP.Address))

	a := &App{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Shutdown(context.Background())
		}
	}()

	if cfg.Tracing.Enabled {
		a.shutdownTracing, err = tracing.Init(tracing.Config{
			ServiceName:    cfg.AppName,
			ServiceVersion: "1.0.0",
			Environment:    cfg.Tracing.Environment,
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
			SamplingRatio:  cfg.Tracing.SamplingRatio,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	dbConfig := postgres.DefaultConfig()
	dbConfig.DSN = cfg.Postgres.DSN
	dbConfig.MaxConns = cfg.Postgres.MaxConns
	a.store, err = postgres.NewStore(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := a.store.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	// Redis is optional; without it every replica throttles on its own.
	var throttle demand.Throttle
	var memThrottle *demand.MemoryThrottle
	if cfg.Redis.Addr != "" {
		a.cache, err = cache.NewCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis initialization failed, continuing with in-process throttle",
				zap.Error(err),
				zap.String("redis_addr", cfg.Redis.Addr))
			a.cache = nil
		}
	}
	if a.cache != nil {
		breaker := circuitbreaker.New("redis_throttle", circuitbreaker.DefaultConfig(), logger)
		throttle = demand.NewRedisThrottle(a.cache, cfg.Demand.ThrottleWindow).WithBreaker(breaker)
	} else {
		memThrottle = demand.NewMemoryThrottle(cfg.Demand.ThrottleWindow)
		throttle = memThrottle
	}

	a.producer, err = events.NewSyncProducer(events.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		return nil, err
	}

	rules := a.store.Rules()
	configs := a.store.SurgeConfigs()
	directory := a.store.Directory()
	auditor := audit.NewManager(audit.NewZapAuditLogger(logger))

	// Demand side: booking events -> buffer -> observations
	publisher := events.NewKafkaPublisher(a.producer, cfg.Kafka.ObservationTopic, retry.DefaultConfig(), logger)
	buffer := demand.NewMemoryBuffer()
	aggregator := demand.NewAggregator(buffer, throttle, directory, a.store.Observations(), publisher, logger, demand.Config{
		DefaultCapacity: cfg.Demand.DefaultCapacity,
		HistoryDays:     cfg.Demand.HistoryDays,
	})
	a.dispatcher = demand.NewDispatcher(aggregator, cfg.Demand.Shards, cfg.Demand.QueueSize, logger)
	a.janitor = demand.NewJanitor(buffer, memThrottle, logger, demand.DefaultJanitorConfig())

	bookingGroup, err := events.NewConsumerGroup(events.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
		GroupID:  cfg.Kafka.AggregatorGroupID,
	})
	if err != nil {
		return nil, err
	}
	a.bookingConsumer = events.NewConsumer(bookingGroup, []string{cfg.Kafka.BookingTopic},
		events.BookingHandler(a.dispatcher), retry.DefaultConfig(), logger.Named("demand"))

	// Surge side: observations -> materialized DRAFT rules
	approvals := approval.NewService(rules, auditor, logger)
	materializer := surge.NewMaterializer(configs, rules, approvals, auditor, logger, surge.MaterializerConfig{
		DefaultDurationHours: cfg.Surge.DefaultDurationHours,
		Retry:                retry.DefaultConfig(),
	})
	if cfg.Surge.UpdaterEnabled {
		observationGroup, err := events.NewConsumerGroup(events.ConsumerConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			GroupID:  cfg.Kafka.UpdaterGroupID,
		})
		if err != nil {
			return nil, err
		}
		updater := surge.NewUpdater(configs, directory, materializer, logger)
		a.observationConsumer = events.NewConsumer(observationGroup, []string{cfg.Kafka.ObservationTopic},
			events.ObservationHandler(updater), retry.DefaultConfig(), logger.Named("surge"))
	}

	quotes := pricing.NewService(pricing.NewEngine(logger), rules, directory, logger)
	apiConfig := api.Config{
		Address:      cfg.HTTP.Address,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	if a.cache != nil && cfg.HTTP.RateLimitPerMinute > 0 {
		apiConfig.RateLimiter = ratelimit.NewRedisRateLimiter(a.cache, cfg.HTTP.RateLimitPerMinute)
		apiConfig.RateLimit = ratelimit.Config{RequestsPerMinute: cfg.HTTP.RateLimitPerMinute, Enabled: true}
	}
	a.apiServer = api.NewServer(apiConfig, quotes, approvals, materializer, logger)

	checks := map[string]metrics.HealthFunc{"postgres": a.store.Health}
	if a.cache != nil {
		checks["redis"] = a.cache.Ping
	}
	a.metricsServer = metrics.NewServer(cfg.Metrics.Address, logger, checks)

	return a, nil
}

// Run starts the servers, consumers and background workers and blocks until
// ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting pricing service application")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.apiServer.Start(gctx) })
	g.Go(func() error { return a.metricsServer.Start(gctx) })
	g.Go(func() error { return a.bookingConsumer.Run(gctx) })
	if a.observationConsumer != nil {
		g.Go(func() error { return a.observationConsumer.Run(gctx) })
	}
	g.Go(func() error { return ignoreCanceled(a.janitor.Start(gctx)) })
	g.Go(func() error { return a.recordPoolStats(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.HTTP.ShutdownTimeout)
		defer cancel()
		return errors.Join(
			a.apiServer.Shutdown(shutdownCtx),
			a.metricsServer.Shutdown(shutdownCtx),
		)
	})

	return g.Wait()
}

func (a *App) recordPoolStats(ctx context.Context) error {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.store.RecordPoolStats()
		}
	}
}

// Shutdown releases everything New opened. Consumers leave their groups
// before the dispatcher drains, so no new events arrive while it does.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down pricing service application")

	var errs []error
	for _, c := range []*events.Consumer{a.bookingConsumer, a.observationConsumer} {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		a.logger.Error("Application shutdown finished with errors", zap.Error(err))
		return err
	}
	a.logger.Info("Application shutdown complete")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
