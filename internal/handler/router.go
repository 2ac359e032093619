package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healspace/support-assistant/internal/middleware"
	"github.com/healspace/support-assistant/internal/service"
	"github.com/healspace/support-assistant/pkg/logger"
)

// RouterConfig holds what the HTTP surface needs.
type RouterConfig struct {
	Service           *service.AssistantService
	Logger            *logger.Logger
	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Heartbeat         time.Duration
}

// NewRouter builds the chi router for the API server.
func NewRouter(cfg RouterConfig) http.Handler {
	healthHandler := NewHealthHandler(cfg.Service)
	assistantHandler := NewAssistantHandler(cfg.Service, cfg.Logger)
	streamHandler := NewStreamHandler(cfg.Service, cfg.Logger, cfg.Heartbeat)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/assistant", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.OwnerRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", assistantHandler.History)
			r.Post("/", assistantHandler.Send)
			r.Delete("/", assistantHandler.Clear)
			r.Post("/resume", assistantHandler.Resume)
		})

		r.Get("/stream", streamHandler.Stream)
	})

	return r
}
