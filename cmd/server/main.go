package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"oobind/internal/config"
	"oobind/internal/logging"
	"oobind/internal/server"
	"oobind/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "oobind-"+cfg.Mode, cfg.OTelEnabled, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	gin.SetMode(cfg.GinMode)
	deps, err := server.NewDeps(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info(ctx, "listening", "addr", cfg.Addr(), "mode", cfg.Mode, "tls", cfg.TLSEnabled())
	return server.Run(ctx, deps)
}
