package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/cashflow/internal/api"
	"github.com/punchamoorthee/cashflow/internal/artifact"
	"github.com/punchamoorthee/cashflow/internal/config"
	"github.com/punchamoorthee/cashflow/internal/directory"
	"github.com/punchamoorthee/cashflow/internal/notify"
	"github.com/punchamoorthee/cashflow/internal/service"
	"github.com/punchamoorthee/cashflow/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := store.Migrate(cfg.DBSource, logger); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}

	dbPool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	artifacts, err := artifact.NewFileStore(cfg.ArtifactRoot)
	if err != nil {
		logger.Fatal("artifact store", zap.Error(err))
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", zap.Error(err))
		}
		notifier = notify.NewRedisPublisher(rdb, cfg.NotifyChannel, logger)
	}

	// Initialize Layers
	svc := service.NewCashflowService(
		store.NewPostgresStore(dbPool),
		directory.NewFileLoader(cfg.UsersFile),
		artifacts,
		notifier,
		logger,
		service.WithLocation(cfg.Location),
	)
	handler := api.NewHandler(svc, cfg.Location, logger)
	router := api.NewRouter(handler, api.NewAuthenticator(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
