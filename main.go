package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"automation-engine/internal/auth"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/config"
	"automation-engine/internal/credentials"
	"automation-engine/internal/crypto"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/gateway"
	"automation-engine/internal/providers"
	"automation-engine/internal/providers/builtin/queue"
	"automation-engine/internal/providers/builtin/schedule"
	"automation-engine/internal/providers/builtin/webhook"
	"automation-engine/internal/ratelimit"
	"automation-engine/internal/redis"
	"automation-engine/internal/server"
	"automation-engine/internal/storage"
)

func main() {
	// Missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger()
	logger := logging.GetGlobalLogger()
	defer logging.MustSync()

	logger.Info("Starting automation engine",
		logging.String("port", cfg.Port),
		logging.Duration("tick_interval", cfg.TickInterval()),
	)

	var encryptor *crypto.SecretEncryptor
	if cfg.EncryptionKey != "" {
		var err error
		encryptor, err = crypto.NewSecretEncryptor(cfg.EncryptionKey)
		if err != nil {
			log.Fatalf("Failed to initialize encryptor: %v", err)
		}
	} else {
		logger.Warn("CONFIG_ENCRYPTION_KEY not set, secrets are stored unencrypted")
	}

	registry := providers.NewRegistry(logger)
	mustRegister(registry, logger, schedule.New())
	mustRegister(registry, logger, webhook.New())

	var queueProvider *queue.Provider
	if cfg.AMQPURL != "" {
		queueProvider = queue.New(cfg.AMQPURL)
		mustRegister(registry, logger, queueProvider)
	}

	store, err := storage.NewStore(cfg, registry.PollProviderIDs(), encryptor)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	var redisClient *redis.Client
	var limiter *ratelimit.Limiter
	if cfg.RedisAddress != "" {
		redisDB, _ := strconv.Atoi(cfg.RedisDB)
		poolSize, _ := strconv.Atoi(cfg.RedisPoolSize)
		redisClient, err = redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       redisDB,
			PoolSize: poolSize,
		})
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		limit, _ := strconv.Atoi(cfg.RateLimitDefault)
		window, _ := time.ParseDuration(cfg.RateLimitWindow)
		limiter = ratelimit.NewLimiter(redisClient, &ratelimit.Config{
			DefaultLimit:  limit,
			DefaultWindow: window,
			Enabled:       cfg.RateLimitEnabled,
		})
	} else if cfg.RateLimitEnabled {
		logger.Warn("Rate limiting requested but REDIS_ADDRESS is not set, hooks are unthrottled")
	}

	credManager := credentials.NewManager(store, registry.RefresherResolver(), cfg.CredentialRefreshSkew(), logger)

	engine := dispatch.NewEngine(store, registry, credManager, dispatch.NewRealClock(), dispatch.Options{
		TickInterval:     cfg.TickInterval(),
		ConcurrencyLimit: cfg.UnitConcurrencyLimit,
	}, logger)

	gw := gateway.New(store, registry, engine, logger)
	authSvc := auth.New(cfg.JWTSecret, 24*time.Hour)

	srv := server.New(":"+cfg.Port, store, registry, gw, engine, authSvc, limiter, credManager, logger)

	engine.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", logging.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", err)
	}

	engine.Stop()

	if queueProvider != nil {
		queueProvider.Close()
	}

	logger.Info("Shutdown complete")
}

func mustRegister(registry *providers.Registry, logger logging.Logger, p providers.Provider) {
	if err := registry.Register(p); err != nil {
		logger.Error("Failed to register provider", err)
		os.Exit(1)
	}
}
