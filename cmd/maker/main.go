// File: cmd/maker/main.go
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Poly_Maker/internal/app"
	"Poly_Maker/internal/config"
	"Poly_Maker/internal/logger"
)

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "path to the YAML configuration")
	envPath := flag.String("env", ".env", "path to the .env file")
	flag.Parse()

	config.LoadEnv(*envPath)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("configuration", "err", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	log := logger.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := app.New(cfg)
	if err := eng.Start(ctx); err != nil {
		log.Error("engine start failed", "err", err)
		os.Exit(1)
	}

	// Wait for termination signal
	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	eng.Stop(stopCtx)
}
