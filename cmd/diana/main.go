package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bsid.es/diana/internal/app"
	"bsid.es/diana/internal/config"
	"bsid.es/diana/pkg/logger"
)

func main() {
	cfg := config.GetConfig()
	l := logger.New(cfg.Log.Level, cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, l); err != nil {
		l.Error("app stopped", logger.Err(err))
		stop()
		os.Exit(1)
	}
}
