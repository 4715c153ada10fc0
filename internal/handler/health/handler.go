package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/solace/backend/internal/service/ai"
	"github.com/zhouzirui/solace/backend/pkg/utils"
)

const modelsTimeout = 5 * time.Second

// Handler reports whether the generation backend can serve requests.
type Handler struct {
	backend ai.Backend
	logger  zerolog.Logger
}

func New(backend ai.Backend, logger zerolog.Logger) *Handler {
	return &Handler{backend: backend, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

type response struct {
	Status          string   `json:"status"`
	AIService       string   `json:"aiService"`
	Config          string   `json:"config,omitempty"`
	AvailableModels []string `json:"availableModels"`
	Ready           bool     `json:"ready"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := h.backend.IsAvailable(r.Context())

	resp := response{
		Status:          "unavailable",
		AIService:       h.backend.Name(),
		AvailableModels: []string{},
		Ready:           ready,
	}
	if ready {
		resp.Status = "healthy"
	}
	if d, ok := h.backend.(ai.Describer); ok {
		resp.Config = d.Describe()
	}
	if lister, ok := h.backend.(ai.ModelLister); ok && ready {
		ctx, cancel := context.WithTimeout(r.Context(), modelsTimeout)
		defer cancel()
		models, err := lister.Models(ctx)
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to list models")
		} else {
			resp.AvailableModels = models
		}
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}
