// Command whisper-api serves the C4 query protocol over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SakshamSinghal20/Whisper/internal/api"
	"github.com/SakshamSinghal20/Whisper/internal/metrics"
	"github.com/SakshamSinghal20/Whisper/internal/store/clickhouse"
)

type config struct {
	Addr          string `long:"addr" env:"WHISPER_API_ADDR" description:"HTTP listen address" default:":8080"`
	MetricsAddr   string `long:"metrics-addr" env:"WHISPER_API_METRICS_ADDR" description:"Prometheus metrics address" default:":2112"`
	ClickhouseDSN string `long:"clickhouse-dsn" env:"WHISPER_API_CLICKHOUSE_DSN" description:"ClickHouse DSN" required:"true"`
	Network       string `long:"network" env:"WHISPER_API_NETWORK" description:"network name echoed by /status" default:"mainnet"`
}

func main() {
	cfg := config{}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("whisper-api failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	startMetricsServer(ctx, cfg.MetricsAddr, logger)

	store, err := clickhouse.NewRepository(cfg.ClickhouseDSN, metrics.NewStore())
	if err != nil {
		return err
	}

	server := api.NewServer(store, store, cfg.Network, logger)
	httpServer := api.NewHTTPServer(cfg.Addr, server)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down whisper-api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", zap.Error(err))
		}
	}()

	logger.Info("starting whisper-api", zap.String("addr", cfg.Addr))
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}()
}
