package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lotledger/lotledger-backend/internal/auth/jwt"
	"github.com/lotledger/lotledger-backend/internal/stock/cache"
	"github.com/lotledger/lotledger-backend/internal/stock/consumers"
	"github.com/lotledger/lotledger-backend/internal/stock/events"
	"github.com/lotledger/lotledger-backend/internal/stock/handler"
	"github.com/lotledger/lotledger-backend/internal/stock/repository"
	"github.com/lotledger/lotledger-backend/internal/stock/repository/memory"
	"github.com/lotledger/lotledger-backend/internal/stock/service"
	"github.com/lotledger/lotledger-backend/pkg/config"
	"github.com/lotledger/lotledger-backend/pkg/database"
	"github.com/lotledger/lotledger-backend/pkg/httputil"
	"github.com/lotledger/lotledger-backend/pkg/logger"
	"github.com/lotledger/lotledger-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("inventory-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("inventory-service", cfg.Server.Environment)
	log.Info().Str("store", cfg.Stock.Store).Msg("starting Inventory Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := map[string]func(context.Context) map[string]string{}

	// Stock store
	var store repository.Store
	switch cfg.Stock.Store {
	case config.StoreMemory:
		log.Warn().Msg("using in-memory stock store; nothing survives a restart")
		store = memory.New(cfg.Stock.LockTimeout)
	default:
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(ctx, db.DB); err != nil {
				log.Fatal().Err(err).Msg("failed to apply stock schema")
			}
			log.Info().Msg("stock schema applied")
		}

		store = repository.NewPostgresStore(db, cfg.Stock.LockTimeout)
		health["database"] = db.Health
	}

	// RabbitMQ is optional; without it no events go out and none come in
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.StockEventPublisher
	)
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue("inventory-service"); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}

		publisher, err = events.NewStockEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		health["rabbitmq"] = func(context.Context) map[string]string { return rmq.Health() }
	} else {
		log.Warn().Msg("RabbitMQ disabled; stock events are not published")
	}

	// Stock level cache
	var levelCache cache.StockLevelCache = cache.Noop{}
	if cfg.Redis.Enabled {
		redisCache := cache.NewRedis(&cfg.Redis)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable; stock levels will be read from the store until it recovers")
		}
		defer redisCache.Close()
		levelCache = redisCache
		health["redis"] = redisCache.Health
	}

	// Initialize services
	stockService := service.NewStockService(store, levelCache, publisher, log)
	sweeper := service.NewExpirySweeper(store, stockService, publisher, log)

	if cfg.Stock.ExpirySweepEnabled {
		scheduler := service.NewExpiryScheduler(sweeper, cfg.Stock.ExpirySweepInterval, log)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	// Order and catalog events
	if rmq != nil {
		startConsumer := func(ctx context.Context) error {
			orderConsumer, err := consumers.NewOrderEventConsumer(rmq, stockService, log)
			if err != nil {
				return err
			}
			return orderConsumer.Start(ctx)
		}
		if err := startConsumer(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start order event consumer")
		}
		rmq.Watch(ctx, startConsumer)
	}

	// Initialize handlers
	stockHandler := handler.NewStockHandler(stockService, sweeper, log)
	tokens := jwt.NewManager(&cfg.JWT)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.Authenticate(tokens, cfg.JWT.Required))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":  "healthy",
			"service": "inventory-service",
			"store":   cfg.Stock.Store,
		}
		for name, check := range health {
			status[name] = check(r.Context())
		}
		if err := stockService.Ping(r.Context()); err != nil {
			status["status"] = "unhealthy"
			httputil.JSON(w, http.StatusServiceUnavailable, status)
			return
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	// API routes
	r.Route("/api/v1/stock", stockHandler.Mount)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers and the expiry scheduler
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
