// websocket.go - Live event push for the widget frontend
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsEnvelope is the frame pushed to connected widgets.
type wsEnvelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// WebSocketHandler pushes intake events to connected widget instances. The
// channel is outbound only; all mutation goes through the REST endpoints.
type WebSocketHandler struct {
	handler  *Handler
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a WebSocket push handler.
func NewWebSocketHandler(h *Handler) *WebSocketHandler {
	return &WebSocketHandler{
		handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The widget is served from this process; dev servers connect
				// cross-origin.
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// HandleWebSocket upgrades the connection and streams intake events until
// the client disconnects.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	slog.Debug("widget connected", "remote", ws.RemoteAddr().String())

	events, cancel := wsh.handler.intake.Subscribe()
	defer cancel()

	// Drain inbound frames so close and pong frames are processed; the
	// channel carries no client commands.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := wsh.send(ws, wsEnvelope{
		Type: "snapshot",
		Payload: map[string]interface{}{
			"files":      fileViews(wsh.handler.intake.List()),
			"summary":    wsh.handler.intake.Summary(),
			"inProgress": wsh.handler.intake.Uploading(),
		},
	}); err != nil {
		return nil
	}

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-done:
			slog.Debug("widget disconnected", "remote", ws.RemoteAddr().String())
			return nil
		case <-c.Request().Context().Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := wsh.send(ws, wsEnvelope{Type: string(ev.Type), Payload: ev}); err != nil {
				return nil
			}
		case <-pings.C:
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, env wsEnvelope) error {
	env.Timestamp = time.Now().UnixMilli()
	ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteJSON(env)
}
