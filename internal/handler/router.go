package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/solace/backend/internal/handler/chat"
	"github.com/zhouzirui/solace/backend/internal/handler/health"
	"github.com/zhouzirui/solace/backend/internal/observability"
	"github.com/zhouzirui/solace/backend/internal/service/ai"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc chat.Service, backend ai.Backend, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	chatHandler := chat.New(chatSvc, observability.Component(logger, "chat_handler"))
	healthHandler := health.New(backend, observability.Component(logger, "health_handler"))

	r.Route("/api", func(api chi.Router) {
		healthHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
