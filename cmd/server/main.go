package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/welldanyogia/llmbot-stream/internal/config"
	"github.com/welldanyogia/llmbot-stream/internal/health"
	"github.com/welldanyogia/llmbot-stream/internal/logger"
	"github.com/welldanyogia/llmbot-stream/internal/metrics"
	"github.com/welldanyogia/llmbot-stream/internal/middleware"
	"github.com/welldanyogia/llmbot-stream/internal/sse"
	"github.com/welldanyogia/llmbot-stream/internal/streaming"
	"github.com/welldanyogia/llmbot-stream/internal/transport"
)

var version = "dev"

func main() {
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server exited")
}

func run(log *slog.Logger) error {
	cfg := config.Load()

	var services *config.Services
	if cfg.ServicesFile != "" {
		s, err := config.LoadServices(cfg.ServicesFile)
		if err != nil {
			return err
		}
		services = s
		for _, b := range s.Bots {
			log.Info("bot configured",
				slog.String("bot", b.Name),
				slog.String("service_type", b.Service.Type),
				slog.String("model", b.Service.DefaultModel),
			)
		}
	}

	registry := streaming.NewRegistry()
	dispatcher := streaming.NewDispatcher(registry, streaming.WithLogger(log))

	source, redisClient, err := transport.FromConfig(cfg, log)
	if err != nil {
		return err
	}
	source.Handle(cfg.Transport.EventName, func(data json.RawMessage) {
		dispatcher.HandleIncoming(data)
	})
	if redisClient != nil {
		defer redisClient.Close()
	}

	sseCfg := sse.Config{
		HeartbeatInterval:     cfg.Stream.HeartbeatInterval,
		ConnectionTimeout:     cfg.Stream.ConnectionTimeout,
		MaxConnectionsPerPost: cfg.Stream.MaxConnectionsPerPost,
		FrameQueueSize:        cfg.Stream.FrameQueueSize,
	}
	connManager := sse.NewConnectionManager(sseCfg)
	stopCleanup := connManager.StartCleanupRoutine(time.Minute)
	defer stopCleanup()

	healthHandler := health.NewHandler(health.Config{
		Source:      source,
		RedisClient: redisClient,
		Subscribers: registry,
		Connections: connManager,
		Version:     version,
	})

	stats := metrics.NewStatsCollector(registry, connManager, source, log)
	stats.Start(15 * time.Second)
	defer stats.Stop()

	limiter := middleware.NewStreamOpenRateLimiter(cfg.Server.StreamOpensPerMinute)
	defer limiter.Stop()

	router := newRouter(routerDeps{
		cfg:      cfg,
		log:      log,
		sse:      sse.NewHandler(sseCfg, connManager, registry, log),
		health:   healthHandler,
		services: services,
		limiter:  limiter,
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: streams stay open up to the SSE connection timeout.
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("event source starting", slog.String("transport", cfg.Transport.Kind))
		if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("event source: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("starting server", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")
		healthHandler.SetReady(false)
		connManager.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
