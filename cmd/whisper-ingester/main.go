// Command whisper-ingester runs the single-writer block ingestion loop
// against a ClickHouse index store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SakshamSinghal20/Whisper/internal/ingest"
	"github.com/SakshamSinghal20/Whisper/internal/metrics"
	"github.com/SakshamSinghal20/Whisper/internal/store/clickhouse"
)

type config struct {
	ClickhouseDSN string        `long:"clickhouse-dsn" env:"WHISPER_INGESTER_CLICKHOUSE_DSN" description:"ClickHouse DSN" required:"true"`
	RPCURL        string        `long:"rpc-url" env:"WHISPER_INGESTER_RPC_URL" description:"Bitcoin RPC URL" default:"http://127.0.0.1:8332"`
	RPCUser       string        `long:"rpc-user" env:"WHISPER_INGESTER_RPC_USER" description:"Bitcoin RPC username"`
	RPCPassword   string        `long:"rpc-password" env:"WHISPER_INGESTER_RPC_PASSWORD" description:"Bitcoin RPC password"`
	StartHeight   int64         `long:"start-height" env:"WHISPER_INGESTER_START_HEIGHT" description:"height to resume from if the store has no tip yet" default:"0"`
	PollInterval  time.Duration `long:"poll-interval" env:"WHISPER_INGESTER_POLL_INTERVAL" description:"delay between tip checks when caught up" default:"5s"`
	MetricsAddr   string        `long:"metrics-addr" env:"WHISPER_INGESTER_METRICS_ADDR" description:"Prometheus metrics address" default:":2113"`
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

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("whisper-ingester failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	startMetricsServer(ctx, cfg.MetricsAddr, logger)

	store, err := clickhouse.NewRepository(cfg.ClickhouseDSN, metrics.NewStore())
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	rpc, err := newRPCClient(cfg.RPCURL, cfg.RPCUser, cfg.RPCPassword)
	if err != nil {
		return fmt.Errorf("init rpc client: %w", err)
	}
	defer func() {
		rpc.Shutdown()
		rpc.WaitForShutdown()
	}()

	tip, err := store.TipHeight(ctx)
	if err != nil {
		return fmt.Errorf("read starting tip: %w", err)
	}
	startHeight := cfg.StartHeight
	if tip > 0 {
		startHeight = int64(tip) + 1
	}

	source := newPollSource(rpc, startHeight, cfg.PollInterval, logger)
	ingester := ingest.New(source, source, source, store, metrics.NewIngest(), logger)

	logger.Info("starting whisper-ingester", zap.Int64("start_height", startHeight))
	return ingester.Run(ctx)
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

func newRPCClient(rawURL, user, password string) (*rpcclient.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse rpc url: %w", err)
	}
	if parsed.Scheme != "http" {
		return nil, fmt.Errorf("rpc url scheme %q not supported, use http", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("rpc url missing host")
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         parsed.Host,
		User:         user,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	return rpcclient.New(connCfg, nil)
}
