package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/config"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/app"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/auditsink"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/clients"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/logging"
)

func main() {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	config.LoadEnv(env)
	logging.InitLogger(env)

	cfg := config.Load()
	if cfg.Kafka.Broker == "" {
		slog.Error("[Main] KAFKA_BROKER is required")
		os.Exit(1)
	}
	cfg.LogStore = cfg.Kafka.SinkStore

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenLogStore(ctx, cfg)
	if err != nil {
		slog.Error("[Main] Failed to open sink store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var consumer *clients.AuditConsumer
	for {
		consumer, err = clients.NewAuditConsumer(cfg.Kafka)
		if err == nil {
			break
		}
		slog.Warn("Kafka init failed, retrying...", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			store.Close(context.Background())
			return
		case <-time.After(5 * time.Second):
		}
	}

	runErr := auditsink.New(consumer, store).Run(ctx)

	if err := consumer.Close(); err != nil {
		slog.Warn("[Main] Consumer close error", slog.String("error", err.Error()))
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(closeCtx); err != nil {
		slog.Warn("[Main] Store close error", slog.String("error", err.Error()))
	}

	if runErr != nil {
		slog.Error("[Main] Audit sink stopped", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
}
