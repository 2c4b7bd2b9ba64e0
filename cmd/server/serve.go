package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/interviewd/internal/api"
	"github.com/ashureev/interviewd/internal/archive"
	"github.com/ashureev/interviewd/internal/chat"
	"github.com/ashureev/interviewd/internal/config"
	"github.com/ashureev/interviewd/internal/conversation"
	"github.com/ashureev/interviewd/internal/middleware"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	c, err := openCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	eval, closeEval := newEvaluator(cfg, logger)
	defer closeEval()

	factory := conversation.NewFactory(c.catalog, eval, c.lifecycle)
	registry := chat.NewRegistry()
	c.lifecycle.OnExpire(registry.Expire)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.Origins()))

	api.NewHandler(c.lifecycle, c.repo, conversation.DefaultKind).RegisterRoutes(r)
	r.Get("/ws/{sessionID}", chat.NewHandler(c.lifecycle, factory, registry, cfg.AllowedOrigins).ServeHTTP)

	// WebSocket connections stay open for the whole interview, so no WriteTimeout.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	srv.RegisterOnShutdown(registry.CloseAll)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	worker := newWorker(cfg, c)
	g.Go(func() error {
		return worker.Run(gctx)
	})

	if cfg.Archive.Enabled {
		archiver, err := archive.New(cfg.Archive.Dir, c.bus, logger)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			return archiver.Run(gctx)
		})
	} else {
		slog.Info("Event archive disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		// Shutdown does not wait for hijacked WebSocket connections.
		if err := registry.Wait(shutdownCtx); err != nil {
			return fmt.Errorf("waiting for chat sessions: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
