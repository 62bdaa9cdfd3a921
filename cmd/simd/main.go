package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crabtrading/papersim/params"
	"github.com/crabtrading/papersim/pkg/cronrunner"
	"github.com/crabtrading/papersim/pkg/marketdata"
	"github.com/crabtrading/papersim/pkg/metrics"
	"github.com/crabtrading/papersim/pkg/sim"
	"github.com/crabtrading/papersim/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger initialized", zap.String("log_file", cfg.LogFile))

	priceFeed := marketdata.NewAlpacaFeed(cfg.Feeds.AlpacaBaseURL, cfg.Feeds.AlpacaKeyID, cfg.Feeds.AlpacaSecret, cfg.Feeds.PriceTimeout)
	marketFeed := marketdata.NewGammaFeed(cfg.Feeds.GammaBaseURL, cfg.Feeds.MarketsTimeout)

	ledger, err := sim.Open(cfg, logger, priceFeed, marketFeed, util.RealClock{})
	if err != nil {
		logger.Fatal("open ledger", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background refresh: prices and prediction markets on one schedule.
	runner := cronrunner.New(logger, ctx)
	if _, err := runner.Add(cfg.Feeds.RefreshCronSpec, func(jobCtx context.Context) {
		if _, err := ledger.RefreshMarkToMarket(jobCtx); err != nil {
			logger.Warn("mark-to-market refresh", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("schedule refresh", zap.Error(err))
	}
	runner.Start()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	runner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", zap.Error(err))
	}

	if err := ledger.Close(); err != nil {
		logger.Error("close ledger", zap.Error(err))
	}
	logger.Info("stopped")
}
