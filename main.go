package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"avax-rpc-gateway/internal/config"
	"avax-rpc-gateway/internal/gateway"
	"avax-rpc-gateway/internal/metrics"
)

func main() {
	configFilename := flag.String("config", "config.yaml", "path to the gateway's YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFilename)
	if err != nil {
		panic(err)
	}

	log, err := newLogger(cfg.Verbose)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("starting avax-rpc-gateway", zap.String("config", *configFilename))

	gw, err := gateway.New(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize gateway", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)

	server := &http.Server{
		Addr:    cfg.GatewayPort,
		Handler: gw.Handler(),
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsPort,
		Handler: metrics.Handler(),
	}

	go func() {
		log.Info("gateway listening", zap.String("addr", cfg.GatewayPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("gateway server failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("metrics listening", zap.String("addr", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("gateway server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", zap.Error(err))
	}

	log.Info("server gracefully stopped")
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
