package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = maxBodyBytes
)

// WebSocketHandler carries chat messages over a persistent connection.
type WebSocketHandler struct {
	svc         Service
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

func NewWebSocketHandler(svc Service, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout: wsReadTimeout,
	}
}

type inboundMessage struct {
	Message string `json:"message"`
}

type outgoingMessage struct {
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// wsConn serializes writers; gorilla allows one concurrent writer per connection.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg outgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{Conn: raw}
	defer conn.Close()

	logger := h.logger.With().Str("user_id", userID).Logger()
	logger.Info().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		res, err := h.svc.ProcessMessage(ctx, userID, msg.Message)
		out := outgoingMessage{Type: "reply", Text: res.Reply, Timestamp: time.Now().UTC()}
		if err != nil {
			_, message := statusFor(err)
			out.Type = "error"
			out.Error = message
		}
		if err := conn.send(out); err != nil {
			logger.Warn().Err(err).Msg("websocket write failed")
			return
		}
		// Generation may outlast the deadline armed before it, and no pong is read meanwhile.
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
