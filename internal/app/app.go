package app

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"bsid.es/diana"
	"bsid.es/diana/api"
	"bsid.es/diana/engine"
	"bsid.es/diana/internal/config"
	"bsid.es/diana/internal/storage"
	"bsid.es/diana/mem"
	"bsid.es/diana/pkg/httpserver"
	"bsid.es/diana/pkg/logger"
)

// Run serves the alarm engine until ctx is done or the HTTP server fails.
func Run(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	// Repository
	store, err := storage.NewFromURL(cfg.Store.URL)
	if err != nil {
		return fmt.Errorf("app - Run - storage.NewFromURL: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	clock := mem.NewClock()
	clock.Interval = cfg.Clock.Interval
	clock.Tolerance = cfg.Clock.Tolerance

	sched := mem.NewScheduler()
	granted := cfg.Scheduler.Granted()
	sched.Permission = func(context.Context) (bool, error) {
		return granted, nil
	}

	e := engine.New(engine.Config{
		Store:     store,
		Scheduler: sched,
		Clock:     clock,
		Log:       l.With("component", "engine"),
		Timeout:   cfg.Scheduler.Timeout,
		Body:      cfg.Scheduler.Body,
		OnInteraction: func(ctx context.Context, a *diana.Alarm) {
			l.Info("opening interaction url", "alarm", a.ID, "url", cfg.Interaction.URL)
		},
	})
	defer e.Close()

	// Handles stored by a previous process are gone with it.
	if err := e.Resync(ctx); err != nil {
		l.Warn("app - Run - initial resync", logger.Err(err))
	}

	g, ctx := errgroup.WithContext(ctx)

	clock.Run(ctx)
	defer clock.Interrupt()
	sched.Run(ctx)
	defer sched.Interrupt()
	deliveries := mem.NewDeliveryLogger(sched, l.With("component", "scheduler"))
	deliveries.Run(ctx)
	defer deliveries.Interrupt()
	e.Run(ctx)
	defer e.Interrupt()

	// HTTP Server
	h := api.NewHandler(e, clock, sched, validator.New(), l)
	router := api.NewRouter(h, l, corsOptions(cfg.HTTP))
	httpServer := httpserver.New(router,
		httpserver.Addr(cfg.HTTP.IP, cfg.HTTP.Port),
		httpserver.ReadTimeout(cfg.HTTP.Timeout),
		httpserver.WriteTimeout(cfg.HTTP.Timeout),
		httpserver.IdleTimeout(cfg.HTTP.IdleTimeout),
	)
	l.Info("http server started", "addr", net.JoinHostPort(cfg.HTTP.IP, cfg.HTTP.Port), "store", cfg.Store.URL)

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case err := <-httpServer.Notify():
			return fmt.Errorf("app - Run - httpServer.Notify: %w", err)
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		l.Info("app - Run - shutting down")
		if err := httpServer.Shutdown(); err != nil {
			return fmt.Errorf("app - Run - httpServer.Shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func corsOptions(cfg config.HTTP) cors.Options {
	return cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		Debug:            cfg.CORS.Debug,
	}
}
