package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adventure-bot/internal/ai"
	"adventure-bot/internal/cache"
	"adventure-bot/internal/config"
	"adventure-bot/internal/database"
	"adventure-bot/internal/handler"
	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/logger"
	"adventure-bot/internal/messaging"
	"adventure-bot/internal/metrics"
	"adventure-bot/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; containers get their environment from compose.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:            cfg.LogLevel,
		Encoding:         cfg.LogEncoding,
		Service:          cfg.ServiceName,
		Env:              cfg.Env,
		Development:      cfg.Env == "development",
		SampleInitial:    cfg.LogSampleInitial,
		SampleThereafter: cfg.LogSampleThereafter,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zap.ReplaceGlobals(zapLogger)

	zapLogger.Info("Starting adventure service",
		zap.String("env", cfg.Env),
		zap.String("port", cfg.HTTPPort),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(reg)

	// --- Database ---
	dbConfig := database.Config{
		DSN:               cfg.GetDSN(),
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		MaxConnIdleTime:   cfg.DBIdleTimeout,
		AcquireTimeout:    cfg.DBAcquireTimeout,
		ConnectAttempts:   cfg.DBConnectRetries,
		ConnectBackoff:    cfg.DBConnectBackoff,
		HeartbeatInterval: cfg.DBHeartbeatInterval,
		TxMaxAttempts:     cfg.TxMaxRetries,
		TxRetryBackoff:    cfg.TxRetryBackoff,
		OperationTimeout:  cfg.DBOperationTimeout,
	}
	conn := database.NewConnectionManager(dbConfig, zapLogger, appMetrics)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	pgPool, err := conn.PgxPool(startupCtx)
	if err != nil {
		startupCancel()
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(startupCtx, pgPool, zapLogger); err != nil {
		startupCancel()
		zapLogger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	startupCancel()

	gateway := database.NewGateway(conn, zapLogger, appMetrics)
	repos := database.NewRepositories(zapLogger, cfg.AdventureRecentEvents)

	// --- Party cache ---
	var partyCache interfaces.PartyCache
	var redisClient *redis.Client
	switch cfg.CacheBackend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		pingCancel()
		partyCache = cache.NewRedis(redisClient, cfg.CacheTTL, zapLogger, appMetrics)
	default:
		partyCache = cache.NewMemory(cfg.CacheSize, cfg.CacheTTL, zapLogger, appMetrics)
	}

	// --- Events ---
	var events interfaces.EventPublisher = messaging.NewNoopPublisher(zapLogger)
	var mqConn *amqp.Connection
	var rabbitPublisher *messaging.RabbitMQPublisher
	if cfg.RabbitMQURL != "" {
		mqCtx, mqCancel := context.WithTimeout(context.Background(), time.Minute)
		mqConn, err = messaging.Connect(mqCtx, cfg.RabbitMQURL, 10, 2*time.Second, zapLogger)
		mqCancel()
		if err != nil {
			zapLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		ch, err := mqConn.Channel()
		if err != nil {
			zapLogger.Fatal("Failed to open RabbitMQ channel", zap.Error(err))
		}
		rabbitPublisher, err = messaging.NewRabbitMQPublisher(ch, cfg.EventsExchange, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to set up event publisher", zap.Error(err))
		}
		events = rabbitPublisher
	} else {
		zapLogger.Info("RABBITMQ_URL not set, events are dropped")
	}

	// --- Services ---
	generator := ai.NewGenerator(ai.Config{
		APIKey:  cfg.AIAPIKey,
		BaseURL: cfg.AIBaseURL,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	}, zapLogger, appMetrics)

	deps := service.Deps{
		Tx:     gateway,
		Repos:  repos,
		Cache:  partyCache,
		Events: events,
		Logger: zapLogger,
	}
	svcConfig := service.Config{
		DefaultMaxSize:    cfg.PartyDefaultMaxSize,
		DefaultMinSize:    cfg.PartyDefaultMinSize,
		AutoStartWhenFull: cfg.PartyAutoStartWhenFull,
		DefaultTheme:      cfg.AdventureDefaultTheme,
		RecentEvents:      cfg.AdventureRecentEvents,
		RecentDecisions:   cfg.AdventureRecentDecisions,
		GenerateTimeout:   cfg.AITimeout,
	}
	parties := service.NewPartyService(deps, svcConfig)
	adventures := service.NewAdventureService(deps, svcConfig, generator, conn.Timer(), appMetrics)
	engine := service.NewEngine(parties, adventures, zapLogger)

	// --- HTTP ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}
	router := handler.NewRouter(handler.NewHandler(engine, zapLogger), zapLogger, handler.RouterOptions{
		Secret:         cfg.InterServiceSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.APIRateLimit,
		RateWindow:     cfg.APIRateWindow,
		Gatherer:       reg,
		Metrics:        appMetrics,
		Health:         conn.Ping,
	})

	// Responses wait for the unit of work; an unbounded one leaves writes unbounded too.
	var writeTimeout time.Duration
	if cfg.DBOperationTimeout >= 0 {
		writeTimeout = cfg.DBOperationTimeout + 15*time.Second
	}
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zapLogger.Info("Starting HTTP server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zapLogger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := gateway.Close(shutdownCtx); err != nil {
		zapLogger.Error("Database gateway closed with open transactions", zap.Error(err))
	}
	if rabbitPublisher != nil {
		if err := rabbitPublisher.Close(); err != nil {
			zapLogger.Error("Failed to close RabbitMQ channel", zap.Error(err))
		}
	}
	if mqConn != nil {
		if err := mqConn.Close(); err != nil {
			zapLogger.Error("Failed to close RabbitMQ connection", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			zapLogger.Error("Failed to close Redis client", zap.Error(err))
		}
	}
	zapLogger.Info("Server exited")
}
