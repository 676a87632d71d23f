package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/rider-dispatch/internal/config"
	"github.com/example/rider-dispatch/internal/dispatch"
	"github.com/example/rider-dispatch/internal/eta"
	"github.com/example/rider-dispatch/internal/geo"
	httpapi "github.com/example/rider-dispatch/internal/http"
	"github.com/example/rider-dispatch/internal/ingest"
	"github.com/example/rider-dispatch/internal/logging"
	"github.com/example/rider-dispatch/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var index geo.RiderIndex
	if cfg.RedisAddr != "" {
		index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("using redis rider index", "addr", cfg.RedisAddr)
	} else {
		index = geo.NewIndex()
		logger.Info("using in-memory rider index")
	}

	var store storage.OrderStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store = ps
		logger.Info("using postgres order store")
	} else {
		store = storage.NewMemoryStore()
		logger.Info("using in-memory order store")
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		logger.Info("publishing locations to kafka", "topic", cfg.KafkaTopic)
	}

	var estimator eta.Estimator = eta.Straightline{SpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMURL != "" {
		estimator = eta.NewCached(eta.NewOSRMClient(cfg.OSRMURL), cfg.EtaCacheTTL)
		logger.Info("using osrm routed eta", "endpoint", cfg.OSRMURL)
	}

	backend := dispatch.NewBackend(index, store, producer, logger)
	registry := dispatch.NewRegistry(backend, logger)
	api := httpapi.NewServer(cfg, logger, registry, store, index, estimator)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dispatchd listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
