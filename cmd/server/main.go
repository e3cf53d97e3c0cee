package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/config"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/app"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/httpserver"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("[Main] Failed to build application", slog.String("error", err.Error()))
		os.Exit(1)
	}
	a.Start(ctx)

	// no WriteTimeout: analyze waits on model inference and /ws/alerts is long lived
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpserver.NewRouter(a.Services()),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("[Main] Server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("[Main] Server error", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("[Main] Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("[Main] HTTP shutdown error", slog.String("error", err.Error()))
	}
	if err := a.Close(shutdownCtx); err != nil {
		slog.Warn("[Main] Component shutdown error", slog.String("error", err.Error()))
	}
	slog.Info("[Main] Shutdown complete")
}
