package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"semaphore/records/internal/auth"
	"semaphore/records/internal/config"
	"semaphore/records/internal/credentials"
	"semaphore/records/internal/crypto"
	"semaphore/records/internal/db"
	internalhttp "semaphore/records/internal/http"
	"semaphore/records/internal/jobs"
	"semaphore/records/internal/logging"
	"semaphore/records/internal/repository"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("could not read .env file")
	}
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("db connection failed")
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.WithError(err).Fatal("db migration failed")
		}
	}

	store := repository.NewStore(pool)
	creds := credentials.NewService(store, crypto.NewHasher(cfg.BcryptCost))

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)
	if err != nil {
		logger.WithError(err).Fatal("token issuer init failed")
	}

	var registry auth.RevocationRegistry
	sweepDone := make(<-chan struct{})
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.WithError(err).Fatal("redis ping failed")
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.WithError(err).Warn("redis close error")
			}
		}()
		registry = auth.NewRedisRegistry(redisClient)
		logger.WithField("addr", cfg.RedisAddr).Info("token revocations stored in redis")
	} else {
		memory := auth.NewMemoryRegistry()
		registry = memory
		sweepDone = jobs.StartRevocationSweep(ctx, cfg.RevocationSweepInterval, memory, logger)
		logger.Info("token revocations kept in memory")
	}

	guard := auth.NewGuard(issuer, registry)
	server := internalhttp.NewServer(cfg, store, creds, issuer, guard, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("records http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
	if cfg.RedisAddr == "" {
		<-sweepDone
	}
}
