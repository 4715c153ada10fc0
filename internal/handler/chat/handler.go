package chat

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/solace/backend/internal/model/conversation"
	"github.com/zhouzirui/solace/backend/internal/service/pipeline"
	"github.com/zhouzirui/solace/backend/pkg/utils"
)

// UserHeader carries the caller's identity, set by the authenticating proxy.
const UserHeader = "X-User-ID"

const maxBodyBytes = 64 << 10

// Service is the part of the pipeline the chat routes use.
type Service interface {
	ProcessMessage(ctx context.Context, userID, text string) (pipeline.Result, error)
	History(ctx context.Context, userID string) ([]conversation.HistoryEntry, error)
	RecentHistory(ctx context.Context, userID string, n int) ([]conversation.HistoryEntry, error)
	ForgetUser(ctx context.Context, userID string) (int, error)
}

// Handler serves the chat API.
type Handler struct {
	svc    Service
	logger zerolog.Logger
	ws     *WebSocketHandler
}

func New(svc Service, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
		ws:     NewWebSocketHandler(svc, logger),
	}
}

// RegisterRoutes mounts the chat routes under r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(cr chi.Router) {
		cr.Use(RequireUser)
		cr.Post("/", h.handleSendMessage)
		cr.Get("/history", h.handleHistory)
		cr.Delete("/history", h.handleDeleteHistory)
		cr.Get("/ws", h.ws.handleWebSocket)
	})
}

type sendRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error     string    `json:"error"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.ProcessMessage(r.Context(), UserID(r), payload.Message)
	now := time.Now().UTC()
	if err != nil {
		status, message := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Int("status", status).Msg("chat message failed")
		}
		utils.RespondJSON(w, status, errorResponse{Error: message, Text: res.Reply, Timestamp: now})
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{Text: res.Reply, Timestamp: now})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	var (
		entries []conversation.HistoryEntry
		err     error
	)

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil || limit <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		entries, err = h.svc.RecentHistory(r.Context(), UserID(r), limit)
	} else {
		entries, err = h.svc.History(r.Context(), UserID(r))
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load history")
		utils.RespondError(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ForgetUser(r.Context(), UserID(r))
	if err != nil {
		if errors.Is(err, pipeline.ErrUnsupported) {
			utils.RespondError(w, http.StatusNotImplemented, "history deletion is not supported by this store")
			return
		}
		h.logger.Error().Err(err).Msg("failed to delete history")
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete chat history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// statusFor maps pipeline errors to an HTTP status and client-facing message.
func statusFor(err error) (int, string) {
	var persistErr *pipeline.PersistError
	switch {
	case errors.Is(err, pipeline.ErrEmptyMessage):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, pipeline.ErrUserRequired):
		return http.StatusUnauthorized, "user identity is required"
	case errors.Is(err, pipeline.ErrCancelled):
		return http.StatusServiceUnavailable, "request cancelled"
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, "reply generated but the conversation could not be saved"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// UserID returns the authenticated user id of r.
func UserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

// RequireUser rejects requests without a user identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r) == "" {
			utils.RespondError(w, http.StatusUnauthorized, "user identity is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
