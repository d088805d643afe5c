// Intent analysis and conversation service.
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

	"github.com/cdoai/intentd/internal/api"
	"github.com/cdoai/intentd/internal/auth"
	"github.com/cdoai/intentd/internal/config"
	"github.com/cdoai/intentd/internal/intent"
	"github.com/cdoai/intentd/internal/llm"
	"github.com/cdoai/intentd/internal/middleware"
	"github.com/cdoai/intentd/internal/orchestrator"
	"github.com/cdoai/intentd/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const version = "1.0.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "model", cfg.LLM.Model)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.Database.Path, cfg.Database.MaxMessages)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected",
		"path", cfg.Database.Path, "retention", cfg.Database.MaxMessages)

	tokens := auth.NewTokenCache(cfg.LLM.TokenURL, cfg.LLM.ClientID,
		cfg.LLM.ClientSecret, cfg.LLM.Timeout)
	gateway := llm.NewClient(llm.Config{
		Endpoint:   cfg.LLM.Endpoint,
		Model:      cfg.LLM.Model,
		APIVersion: cfg.LLM.APIVersion,
		AppKey:     cfg.LLM.AppKey,
		MaxRetries: cfg.LLM.MaxRetries,
		Timeout:    cfg.LLM.Timeout,
	}, tokens)

	classifier := intent.NewClassifier(gateway,
		cfg.LLM.IntentTemperature, cfg.LLM.IntentMaxTokens)
	svc := orchestrator.NewService(classifier, gateway, repo, orchestrator.Config{
		ResponseTemperature: cfg.LLM.ResponseTemperature,
		ResponseMaxTokens:   cfg.LLM.ResponseMaxTokens,
	})

	handler := api.NewHandler(svc, repo, cfg.LLM.Model, version)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
