// Command dbcoordinatord runs a single coordination-core Database against
// configured storage, exposing Prometheus metrics over HTTP and shutting
// down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dependable-objdb/core/internal/coordinator"
	"github.com/dependable-objdb/core/internal/infrastructure/config"
	"github.com/dependable-objdb/core/internal/infrastructure/metrics"
	"github.com/dependable-objdb/core/internal/invalidation"
	"github.com/dependable-objdb/core/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Address to serve /metrics on")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("loading configuration", zap.Error(err))
	}
	logger.Info("configuration loaded", zap.String("database_name", cfg.DatabaseName))

	reg := prometheus.NewRegistry()
	metricsReg, err := metrics.NewRegistry(reg)
	if err != nil {
		logger.Fatal("registering metrics", zap.Error(err))
	}

	ctx := context.Background()

	var st storage.Storage
	if cfg.Storage.DSN == "memory" {
		st = storage.NewMemory()
	} else {
		st, err = storage.NewPostgres(ctx, cfg.Storage, logger)
		if err != nil {
			logger.Fatal("connecting to storage", zap.Error(err))
		}
	}

	opts := []coordinator.Option{
		coordinator.WithStorage(st),
		coordinator.WithMetrics(metricsReg),
		coordinator.WithLogger(logger),
	}
	if cfg.Redis != nil {
		bus, err := invalidation.NewBus(cfg.Redis, logger)
		if err != nil {
			logger.Fatal("connecting invalidation bus", zap.Error(err))
		}
		defer bus.Close()
		opts = append(opts, coordinator.WithBus(bus))
	}

	db, err := coordinator.New(ctx, cfg, opts...)
	if err != nil {
		logger.Fatal("constructing database", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: *metricsAddr, Handler: mux}

	go func() {
		logger.Info("serving metrics", zap.String("addr", *metricsAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}
	if err := db.Close(shutdownCtx); err != nil {
		logger.Error("database close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
