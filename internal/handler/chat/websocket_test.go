package chat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatservice "github.com/zhouzirui/solace/backend/internal/service/chat"
)

func dialChat(t *testing.T, svc Service, userID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	r := chi.NewRouter()
	New(svc, zerolog.Nop()).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	header := http.Header{}
	if userID != "" {
		header.Set(UserHeader, userID)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	return websocket.DefaultDialer.Dial(url, header)
}

func TestWebSocketReplies(t *testing.T) {
	store := chatservice.NewMemoryStore()
	svc := newPipeline(t, &stubBackend{available: true, text: "I'm listening."}, store)

	conn, _, err := dialChat(t, svc, "u1")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(inboundMessage{Message: "hello"}))
	var reply outgoingMessage
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "reply", reply.Type)
	assert.Equal(t, "I'm listening.", reply.Text)

	require.NoError(t, conn.WriteJSON(inboundMessage{Message: " "}))
	var rejected outgoingMessage
	require.NoError(t, conn.ReadJSON(&rejected))
	assert.Equal(t, "error", rejected.Type)
	assert.Equal(t, "message is required", rejected.Error)
}

func TestWebSocketRequiresUser(t *testing.T) {
	svc := newPipeline(t, &stubBackend{available: true, text: "x"}, chatservice.NewMemoryStore())

	_, resp, err := dialChat(t, svc, "")

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketSurvivesSlowGeneration(t *testing.T) {
	svc := newPipeline(t, &stubBackend{available: true, text: "took a while", delay: 300 * time.Millisecond}, chatservice.NewMemoryStore())
	ws := NewWebSocketHandler(svc, zerolog.Nop())
	ws.readTimeout = 100 * time.Millisecond

	r := chi.NewRouter()
	r.With(RequireUser).Get("/chat/ws", ws.handleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	header := http.Header{}
	header.Set(UserHeader, "u1")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/chat/ws", header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	for _, msg := range []string{"first", "second"} {
		require.NoError(t, conn.WriteJSON(inboundMessage{Message: msg}))
		var reply outgoingMessage
		require.NoError(t, conn.ReadJSON(&reply), "no reply to %q", msg)
		assert.Equal(t, "reply", reply.Type)
		assert.Equal(t, "took a while", reply.Text)
	}
}
