package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/interviewd/internal/cleanup"
	"github.com/ashureev/interviewd/internal/config"
	"github.com/ashureev/interviewd/internal/conversation"
	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/evaluator"
	"github.com/ashureev/interviewd/internal/events"
	"github.com/ashureev/interviewd/internal/lifecycle"
	"github.com/ashureev/interviewd/internal/notify"
	"github.com/ashureev/interviewd/internal/store"
)

// core holds the dependencies shared by every command.
type core struct {
	repo      *store.SQLiteStore
	bus       *events.Bus
	catalog   conversation.Catalog
	lifecycle *lifecycle.Service
}

func openCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	catalog, err := conversation.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	bus, err := openBus(ctx, cfg, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	var mailer notify.Mailer
	if cfg.SMTPEnabled() {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		slog.Info("Email notifications disabled (SMTP_USERNAME and SMTP_FROM not set)")
	}
	dispatcher := notify.NewDispatcher(mailer, notify.NewWebhookClient(cfg.WebhookTimeout), logger)

	lc := lifecycle.NewService(repo, dispatcher, bus, lifecycle.Config{
		ExpiryWindow: cfg.ExpiryWindow,
		Supports:     catalog.Supports,
	}, logger)

	return &core{repo: repo, bus: bus, catalog: catalog, lifecycle: lc}, nil
}

func openBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*events.Bus, error) {
	if cfg.Events.RedisAddr == "" {
		slog.Info("Using in-memory event bus", "topic", cfg.Events.Topic)
		return events.NewMemoryBus(cfg.Events.Topic, logger), nil
	}

	consumer, err := os.Hostname()
	if err != nil || consumer == "" {
		consumer = "interviewd"
	}
	bus, err := events.NewRedisBus(ctx, events.RedisConfig{
		Addr:     cfg.Events.RedisAddr,
		Topic:    cfg.Events.Topic,
		Group:    "interviewd-archive",
		Consumer: consumer,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect event stream: %w", err)
	}
	slog.Info("Using Redis event stream", "addr", cfg.Events.RedisAddr, "topic", cfg.Events.Topic)
	return bus, nil
}

func (c *core) close() {
	if err := c.bus.Close(); err != nil {
		slog.Error("Failed to close event bus", "error", err)
	}
	if err := c.repo.Close(); err != nil {
		slog.Error("Failed to close repository", "error", err)
	}
}

func newEvaluator(cfg *config.Config, logger *slog.Logger) (evaluator.Evaluator, func()) {
	var inner evaluator.Evaluator = evaluator.NewHeuristic()
	closeFn := func() {}

	if cfg.Evaluator.Addr != "" {
		slog.Info("Connecting to answer evaluator via gRPC", "address", cfg.Evaluator.Addr)
		remote, err := evaluator.NewGrpcEvaluator(evaluator.DefaultGrpcConfig(cfg.Evaluator.Addr), logger)
		if err != nil {
			slog.Warn("Failed to connect to answer evaluator, using heuristic checks", "error", err)
		} else {
			inner = remote
			closeFn = remote.Close
		}
	} else {
		slog.Info("Remote evaluator disabled (EVALUATOR_ADDR not set), using heuristic checks")
	}

	return evaluator.NewGuarded(inner, cfg.Evaluator.Timeout, logger), closeFn
}

func newWorker(cfg *config.Config, c *core) *cleanup.Worker {
	return cleanup.NewWorker(c.repo, c.lifecycle, cfg.Cleanup.Interval, cleanup.Timeouts{
		domain.StatusNew:       cfg.Cleanup.TimeoutNew,
		domain.StatusInitiated: cfg.Cleanup.TimeoutInitiated,
		domain.StatusStarted:   cfg.Cleanup.TimeoutStarted,
	})
}
