package hub

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/status"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to loopback; cross-origin pages on the same host are
	// how local frontends connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and attaches the connection as a viewer.
func ServeWS(h *Hub, ing *ingest.Ingestor, tracker *status.Tracker, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		viewer := NewViewer(uuid.NewString(), 128)
		h.Register(viewer)

		cl := &client{
			hub:     h,
			ing:     ing,
			tracker: tracker,
			conn:    conn,
			viewer:  viewer,
			logger:  logger,
		}
		go cl.writePump()
		go cl.readPump()
	}
}
