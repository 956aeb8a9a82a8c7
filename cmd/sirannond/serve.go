package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/assetcorp/sirannon/internal/config"
	"github.com/assetcorp/sirannon/internal/hooks"
	"github.com/assetcorp/sirannon/internal/metrics"
	"github.com/assetcorp/sirannon/internal/registry"
	"github.com/assetcorp/sirannon/internal/transport/httpapi"
	"github.com/assetcorp/sirannon/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return err
	}

	globalHooks := hooks.New()
	collector := metrics.New()
	sirannon := registry.New(globalHooks, collector)

	resolver := registry.CreateTenantResolver(registry.CreateTenantResolverOptions{
		BasePath: cfg.DataDir,
		DefaultOptions: registry.OpenOptions{
			ReadPoolSize:    cfg.ReadPoolSize,
			WALMode:         cfg.WALMode,
			CDCPollInterval: int64(cfg.CDCPollInterval),
			ChangeRetention: int64(cfg.ChangeRetention),
			PollBatchSize:   cfg.PollBatchSize,
		},
	})
	lifecycle := registry.NewLifecycleManager(registry.LifecycleConfig{
		IdleTimeout: cfg.IdleTimeout,
		MaxOpen:     cfg.MaxOpen,
		Resolver:    resolver,
	}, sirannon.LifecycleCallbacks())
	sirannon.SetLifecycle(lifecycle)

	var metricsCollector *metrics.Collector
	if cfg.MetricsEnabled {
		metricsCollector = collector
	}

	router := httpapi.NewRouter(httpapi.Options{
		Sirannon:       sirannon,
		Metrics:        metricsCollector,
		AllowedOrigins: cfg.CORSOrigins,
	})

	wsHandler := ws.NewHandler(sirannon, nil)
	wsHandler.Mount(router, "/db/{id}")

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	serveCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("sirannond listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-serveCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	wsHandler.Shutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to close")
	}

	if err := sirannon.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("registry shutdown reported errors")
	}

	return nil
}
