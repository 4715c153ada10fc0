package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/solace/backend/internal/analysis/risk"
	"github.com/zhouzirui/solace/backend/internal/model/conversation"
	"github.com/zhouzirui/solace/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/solace/backend/internal/service/chat"
	"github.com/zhouzirui/solace/backend/internal/service/pipeline"
)

type stubBackend struct {
	available bool
	text      string
	delay     time.Duration
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) IsAvailable(context.Context) bool { return b.available }

func (b *stubBackend) Close() error { return nil }

func (b *stubBackend) Generate(context.Context, ai.Request) (string, error) {
	time.Sleep(b.delay)
	return b.text, nil
}

type brokenStore struct {
	chatservice.Store
}

func (brokenStore) Append(context.Context, conversation.Turn) (conversation.Turn, error) {
	return conversation.Turn{}, errors.New("database is locked")
}

func newPipeline(t *testing.T, backend ai.Backend, store chatservice.Store) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.Deps{
		Classifier:      risk.NewClassifier(risk.Terms{Crisis: []string{"want to die"}}),
		Prompts:         ai.NewPromptBuilder(150, 0.7, 100),
		Backend:         backend,
		Sanitizer:       ai.NewSanitizer(),
		Store:           store,
		CrisisResources: "Call 112.",
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)
	return p
}

func setupRouter(t *testing.T, svc Service) *chi.Mux {
	t.Helper()
	r := chi.NewRouter()
	New(svc, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &v))
	return v
}

func TestSendMessage(t *testing.T) {
	r := setupRouter(t, newPipeline(t, &stubBackend{available: true, text: "I'm glad to hear that."}, chatservice.NewMemoryStore()))

	resp := do(r, http.MethodPost, "/chat", "u1", `{"message":"I had a good day"}`)

	require.Equal(t, http.StatusOK, resp.Code)
	body := decode[chatResponse](t, resp)
	assert.Equal(t, "I'm glad to hear that.", body.Text)
	assert.False(t, body.Timestamp.IsZero())
}

func TestSendMessageCrisis(t *testing.T) {
	r := setupRouter(t, newPipeline(t, &stubBackend{available: true, text: "I'm sorry."}, chatservice.NewMemoryStore()))

	resp := do(r, http.MethodPost, "/chat", "u1", `{"message":"I want to die"}`)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "I'm sorry.\n\nCall 112.", decode[chatResponse](t, resp).Text)
}

func TestSendMessageRejections(t *testing.T) {
	r := setupRouter(t, newPipeline(t, &stubBackend{available: true, text: "x"}, chatservice.NewMemoryStore()))

	tests := []struct {
		name   string
		userID string
		body   string
		want   int
	}{
		{name: "missing user", userID: "", body: `{"message":"hi"}`, want: http.StatusUnauthorized},
		{name: "empty message", userID: "u1", body: `{"message":"   "}`, want: http.StatusBadRequest},
		{name: "missing message", userID: "u1", body: `{}`, want: http.StatusBadRequest},
		{name: "invalid json", userID: "u1", body: `{"message":`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(r, http.MethodPost, "/chat", tt.userID, tt.body)
			assert.Equal(t, tt.want, resp.Code)
			assert.NotEmpty(t, decode[map[string]any](t, resp)["error"])
		})
	}
}

func TestSendMessagePersistFailureIncludesReply(t *testing.T) {
	r := setupRouter(t, newPipeline(t, &stubBackend{available: true, text: "still here"}, brokenStore{}))

	resp := do(r, http.MethodPost, "/chat", "u1", `{"message":"hello"}`)

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	body := decode[errorResponse](t, resp)
	assert.Equal(t, "still here", body.Text)
	assert.NotEmpty(t, body.Error)
}

func TestHistory(t *testing.T) {
	r := setupRouter(t, newPipeline(t, &stubBackend{available: false}, chatservice.NewMemoryStore()))

	for _, msg := range []string{"one", "two"} {
		require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/chat", "u1", `{"message":"`+msg+`"}`).Code)
	}

	resp := do(r, http.MethodGet, "/chat/history", "u1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	entries := decode[[]conversation.HistoryEntry](t, resp)
	require.Len(t, entries, 4)
	assert.Equal(t, "one", entries[0].Text)
	assert.Equal(t, conversation.SenderUser, entries[0].Sender)
	assert.Equal(t, pipeline.UnavailableReply, entries[1].Text)
	assert.Equal(t, conversation.SenderAI, entries[1].Sender)

	resp = do(r, http.MethodGet, "/chat/history?limit=1", "u1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[[]conversation.HistoryEntry](t, resp), 1)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/chat/history?limit=zero", "u1", "").Code)

	resp = do(r, http.MethodGet, "/chat/history", "someone-else", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "[]\n", resp.Body.String())
}

func TestDeleteHistory(t *testing.T) {
	r := setupRouter(t, newPipeline(t, &stubBackend{available: true, text: "ok"}, chatservice.NewMemoryStore()))
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/chat", "u1", `{"message":"hello"}`).Code)

	resp := do(r, http.MethodDelete, "/chat/history", "u1", "")

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 2, decode[map[string]int](t, resp)["deleted"])
	assert.Equal(t, "[]\n", do(r, http.MethodGet, "/chat/history", "u1", "").Body.String())

	unsupported := setupRouter(t, newPipeline(t, &stubBackend{}, brokenStore{}))
	assert.Equal(t, http.StatusNotImplemented, do(unsupported, http.MethodDelete, "/chat/history", "u1", "").Code)
}

func TestStatusFor(t *testing.T) {
	status, _ := statusFor(&pipeline.PersistError{Role: conversation.RoleUser, Err: errors.New("x")})
	assert.Equal(t, http.StatusInternalServerError, status)

	status, _ = statusFor(pipeline.ErrUserRequired)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = statusFor(errors.Join(pipeline.ErrCancelled, context.Canceled))
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
