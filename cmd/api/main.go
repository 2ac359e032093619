// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/healspace/support-assistant/internal/assistant"
	"github.com/healspace/support-assistant/internal/config"
	"github.com/healspace/support-assistant/internal/handler"
	"github.com/healspace/support-assistant/internal/llm"
	natsclient "github.com/healspace/support-assistant/internal/nats"
	"github.com/healspace/support-assistant/internal/service"
	"github.com/healspace/support-assistant/internal/store"
	"github.com/healspace/support-assistant/pkg/logger"
	"github.com/healspace/support-assistant/pkg/tracing"
)

const serviceName = "support-assistant"

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting API server",
		zap.String("store", cfg.StoreBackend),
		zap.String("llm_provider", cfg.LLMProvider),
	)

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	turns, events, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// A missing or broken provider leaves generation disabled; every reply
	// then falls back to the apology text while the crisis gate still works.
	llmClient, err := llm.NewClient(ctx, llm.Provider(cfg.LLMProvider), cfg.LLMAPIKey())
	if err != nil {
		log.Warn("LLM client unavailable, generation disabled", zap.Error(err))
	}

	generator := assistant.NewGenerator(llmClient, cfg.LLMModel(), log)
	svc := service.NewAssistantService(turns, events, generator, service.Options{
		ContextTurns:        cfg.ContextTurns,
		HistoryContextLimit: cfg.HistoryContextLimit,
	}, log)

	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: handler.NewRouter(handler.RouterConfig{
			Service:           svc,
			Logger:            log,
			JWTSecret:         cfg.JWTSecret,
			AllowedOrigins:    cfg.CORSAllowedOrigins,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
		}),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// openStore connects the configured conversation store.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.TurnStore, store.EventPublisher, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		log.Warn("using in-memory store; conversations are lost on restart")
		mem := store.NewMemoryStore()
		return mem, mem, func() {}, nil

	case config.StoreNATS:
		client, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}

		streamManager := natsclient.NewStreamManager(client)
		if err := streamManager.EnsureStream(ctx); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("failed to ensure stream: %w", err)
		}
		return streamManager, streamManager, client.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
