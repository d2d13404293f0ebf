package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/resolveit/platform/internal/shared/auth"
	"github.com/resolveit/platform/internal/shared/types"
	"go.uber.org/zap"
)

const (
	actionJoin  = "joinCaseRoom"
	actionLeave = "leaveCaseRoom"

	maxFrameBytes = 4096
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
)

// RoomAuthorizer decides whether user may join the room of caseID
type RoomAuthorizer func(ctx context.Context, user *auth.User, caseID types.ID) error

// clientFrame is what browsers send; caseId may be a number or a string
type clientFrame struct {
	Action string          `json:"action"`
	CaseID json.RawMessage `json:"caseId"`
}

// WebsocketHandler adapts websocket connections to the hub
type WebsocketHandler struct {
	hub          *Hub
	authorize    RoomAuthorizer
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewWebsocketHandler creates the /ws handler. It must run behind the auth
// middleware so the caller identity is in the request context.
func NewWebsocketHandler(hub *Hub, authorize RoomAuthorizer, allowedOrigin string, writeTimeout time.Duration, logger *zap.Logger) *WebsocketHandler {
	return &WebsocketHandler{
		hub:       hub,
		authorize: authorize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	sink := &wsSink{conn: conn, timeout: h.writeTimeout}
	sub := h.hub.Subscribe(sink)
	h.logger.Info("Realtime client connected",
		zap.String("subscriber", sub.ID),
		zap.String("user_id", user.ID.String()),
	)

	defer func() {
		h.hub.Unsubscribe(sub.ID)
		conn.Close()
		h.logger.Info("Realtime client disconnected", zap.String("subscriber", sub.ID))
	}()

	// requests are cancelled once the handler returns; room checks must not be
	ctx := context.WithoutCancel(r.Context())

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go sink.keepAlive(stopPing)

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Realtime read failed", zap.String("subscriber", sub.ID), zap.Error(err))
			}
			return
		}
		h.handleFrame(ctx, sub.ID, user, frame)
	}
}

func (h *WebsocketHandler) handleFrame(ctx context.Context, connID string, user *auth.User, frame clientFrame) {
	caseID, err := types.ParseID(strings.Trim(string(frame.CaseID), `"`))
	if err != nil {
		h.hub.SendTo(connID, errorMessage("invalid caseId"))
		return
	}

	switch frame.Action {
	case actionJoin:
		if err := h.authorize(ctx, user, caseID); err != nil {
			h.hub.SendTo(connID, errorMessage(err.Error()))
			return
		}
		if err := h.hub.SubscribeToCase(connID, caseID); err != nil {
			return
		}
		h.hub.SendTo(connID, Message{Event: EventJoined, Data: map[string]any{"caseId": caseID}})

	case actionLeave:
		h.hub.LeaveCase(connID, caseID)
		h.hub.SendTo(connID, Message{Event: EventLeft, Data: map[string]any{"caseId": caseID}})

	default:
		h.hub.SendTo(connID, errorMessage("unknown action"))
	}
}

func errorMessage(text string) Message {
	return Message{Event: EventError, Data: map[string]string{"message": text}}
}

// wsSink serializes writes to one gorilla connection. Only the hub's
// delivery goroutine calls Send; pings go through WriteControl which may
// run concurrently.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSink) Send(m Message) error {
	if s.timeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	return s.conn.WriteJSON(m)
}

func (s *wsSink) Close() error {
	return s.conn.Close()
}

func (s *wsSink) keepAlive(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
