// Package ws bridges the progress broadcaster onto WebSocket connections.
// One connection follows one upload session; the connection closes when the
// session reaches its terminal event.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/fanarchive/internal/observability"
	"github.com/your-org/fanarchive/internal/progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

const writeWait = 10 * time.Second

// Handler upgrades progress requests and pumps broadcaster events to the
// client.
type Handler struct {
	broadcaster *progress.Broadcaster
}

func NewHandler(b *progress.Broadcaster) *Handler {
	return &Handler{broadcaster: b}
}

// HandleProgress subscribes the connection to the session's event stream.
// The subscriber channel closes on the terminal event or on idle timeout;
// either way the connection is torn down.
func (h *Handler) HandleProgress(c *gin.Context) {
	sessionID := c.Param("sessionID")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "session", sessionID, "error", err)
		return
	}

	sub := h.broadcaster.Subscribe(sessionID)
	observability.WSConnections.Inc()
	slog.Debug("progress client connected", "session", sessionID)

	go h.writePump(conn, sub, sessionID)
	go h.readPump(conn, sub)
}

func (h *Handler) writePump(conn *websocket.Conn, sub *progress.Subscriber, sessionID string) {
	defer func() {
		conn.Close()
		observability.WSConnections.Dec()
		slog.Debug("progress client disconnected", "session", sessionID)
	}()

	for ev := range sub.C {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			h.broadcaster.Unsubscribe(sub)
			return
		}
	}

	// Channel closed: the session is done. Say goodbye properly.
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"))
}

// readPump exists only to detect client disconnection; incoming messages
// are discarded.
func (h *Handler) readPump(conn *websocket.Conn, sub *progress.Subscriber) {
	defer func() {
		h.broadcaster.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
