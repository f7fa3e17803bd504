/**
 * @description
 * This is the main entry point for the transfer-service. It is responsible for
 * initializing all components of the service, including configuration, the record store,
 * message brokers, the verification rate limiter, the core application service, the
 * maintenance scheduler and the HTTP server. It wires everything together and starts the
 * service.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Verification throttling.
 * - github.com/joho/godotenv: Loads a local .env file before configuration is read.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq, pkg/kafka: Event publishing.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/transfa/transfer-service/internal/api"
	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/config"
	"github.com/transfa/transfer-service/internal/logger"
	"github.com/transfa/transfer-service/internal/store"
	kafkapub "github.com/transfa/transfer-service/pkg/kafka"
	rmrabbit "github.com/transfa/transfer-service/pkg/rabbitmq"
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	base := logger.New(cfg.LogLevel, cfg.LogFormat)
	bootLog := logger.Component(base, "bootstrap")

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		bootLog.Fatal().Str("env", "JWT_SECRET").Msg("jwt secret must be configured")
	}
	bootLog.Info().Str("port", cfg.ServerPort).Str("store", cfg.StoreDriver).Str("broker", cfg.EventBroker).Msg("starting transfer-service")

	repository, closeStore := openStore(cfg, bootLog)
	defer closeStore()

	publisher, exchange, closePublisher := openPublisher(cfg, base, bootLog)
	defer closePublisher()

	limiter, closeLimiter := openRateLimiter(cfg, base, bootLog)
	defer closeLimiter()

	var notifier app.Notifier = app.NewLogNotifier(logger.Component(base, "notifier"))
	if cfg.EventBroker == "rabbitmq" || cfg.EventBroker == "kafka" {
		notifier = app.NewEventNotifier(publisher, exchange)
	}

	gate := app.NewGate(repository, notifier, limiter, app.GateConfig{
		CodeTTL:               cfg.CodeTTL(),
		HashCost:              cfg.VerificationCodeHashCost,
		MaxResends:            cfg.VerificationMaxResends,
		MaxLifetime:           cfg.ChallengeLifetime(),
		ResendLimitPerMinute:  cfg.VerificationResendPerMinute,
		ConfirmLimitPerMinute: cfg.VerificationConfirmPerMinute,
	}, logger.Component(base, "verification"))

	executor := app.NewExecutor(repository, app.NewReferenceGenerator(repository), logger.Component(base, "executor"))

	// Initialize the core application service with its dependencies.
	transferService := app.NewService(
		repository,
		api.ContextIdentity{},
		gate,
		executor,
		publisher,
		app.ServiceOptions{
			Fees: app.FeeSchedule{
				DomesticWire:  cfg.DomesticWireFee,
				International: cfg.InternationalWireFee,
			},
			BypassUserIDs:  cfg.BypassUserIDs(),
			EventsExchange: exchange,
		},
		logger.Component(base, "orchestrator"),
	)
	if ids := cfg.BypassUserIDs(); len(ids) > 0 {
		bootLog.Warn().Int("count", len(ids)).Msg("verification bypass identities configured")
	}

	scheduler := app.NewScheduler(transferService, logger.Component(base, "scheduler"), app.SchedulerConfig{
		ChallengeSweepSchedule:    cfg.ChallengeSweepSchedule,
		AbandonedTransferSchedule: cfg.AbandonedTransferSchedule,
		AbandonedTransferAge:      cfg.AbandonedTransferAge(),
	})
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.EventBroker == "rabbitmq" && strings.TrimSpace(cfg.RabbitMQURL) != "" {
		consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, logger.Component(base, "rabbitmq_consumer"))
		if err != nil {
			bootLog.Warn().Err(err).Msg("rabbitmq consumer unavailable; delivery reports will not be recorded")
		} else {
			defer consumer.Close()
			reports := app.NewDeliveryReportConsumer(repository, logger.Component(base, "delivery_reports"))
			if err := consumer.ConsumeWithBindings(exchange, cfg.DeliveryReportQueue, reports.Bindings()); err != nil {
				bootLog.Warn().Err(err).Msg("delivery report consumer start failed")
			}
		}
	}

	// Initialize the API handlers.
	transferHandlers := api.NewTransferHandlers(transferService, logger.Component(base, "http"))

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.TransferRoutes(transferHandlers, api.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		AllowedOrigins: cfg.AllowedOrigins(),
	}))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpLog := logger.Component(base, "http")
	go func() {
		httpLog.Info().Str("addr", serverAddr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpLog.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	httpLog.Info().Msg("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		httpLog.Error().Err(err).Msg("shutdown failed")
	}

	httpLog.Info().Msg("shutdown complete")
}

// openStore connects the configured record store. The memory driver is meant for local
// development and starts without accounts.
func openStore(cfg config.Config, log zerolog.Logger) (store.Repository, func()) {
	if cfg.StoreDriver == "memory" {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return store.NewMemoryRepository(), func() {}
	}

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database url parse failed")
	}

	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = cfg.DBMinConns
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	log.Info().Msg("database connected")

	repository := store.NewPostgresRepository(dbpool)
	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repository.EnsureSchema(schemaCtx); err != nil {
		dbpool.Close()
		log.Fatal().Err(err).Msg("schema bootstrap failed")
	}

	return repository, dbpool.Close
}

// openPublisher connects the configured event broker and returns the exchange or topic
// events are published to. A broker that cannot be reached degrades to a logging
// fallback so the service still boots.
func openPublisher(cfg config.Config, base zerolog.Logger, log zerolog.Logger) (app.EventPublisher, string, func()) {
	switch cfg.EventBroker {
	case "rabbitmq":
		producerLog := logger.Component(base, "rabbitmq_producer")
		producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, producerLog)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq producer unavailable; using fallback")
			return &rmrabbit.EventProducerFallback{Logger: producerLog}, cfg.EventsExchange, func() {}
		}
		log.Info().Msg("rabbitmq producer connected")
		return producer, cfg.EventsExchange, producer.Close
	case "kafka":
		brokers := kafkapub.ParseBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			log.Warn().Str("env", "KAFKA_BROKERS").Msg("kafka brokers missing; events disabled")
			return app.NewNoopPublisher(logger.Component(base, "kafka_publisher")), cfg.KafkaTopic, func() {}
		}
		publisher := kafkapub.NewPublisher(brokers, cfg.KafkaTopic)
		log.Info().Strs("brokers", brokers).Str("topic", cfg.KafkaTopic).Msg("kafka publisher configured")
		return publisher, cfg.KafkaTopic, publisher.Close
	default:
		log.Warn().Str("broker", cfg.EventBroker).Msg("no event broker configured; events disabled")
		return app.NewNoopPublisher(logger.Component(base, "events")), cfg.EventsExchange, func() {}
	}
}

// openRateLimiter prefers Redis so limits hold across replicas and falls back to an
// in-process limiter when Redis is missing or failing.
func openRateLimiter(cfg config.Config, base zerolog.Logger, log zerolog.Logger) (app.RateLimiter, func()) {
	local := app.NewLocalRateLimiter()
	if cfg.RedisURL == "" {
		log.Warn().Str("env", "REDIS_URL").Msg("redis url missing; verification throttling is per instance")
		return local, func() {}
	}

	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis url parse failed; verification throttling is per instance")
		return local, func() {}
	}

	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed; verification throttling is per instance")
		redisClient.Close()
		return local, func() {}
	}
	log.Info().Msg("redis connected")

	limiter := app.NewFallbackRateLimiter(
		app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
		local,
		logger.Component(base, "rate_limiter"),
	)
	return limiter, func() { redisClient.Close() }
}
