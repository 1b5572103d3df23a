package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/status"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxInboundSize = 64 * 1024
)

// command is a frame sent by the client. Type selects the action:
// "watch" / "unwatch" scope the message stream, "send" composes an outbound
// text, "read" marks the watched thread read.
type command struct {
	Type      string `json:"type"`
	ContactID string `json:"contact_id,omitempty"`
	Body      string `json:"body,omitempty"`
}

// client binds one websocket connection to a hub viewer.
type client struct {
	hub     *Hub
	ing     *ingest.Ingestor
	tracker *status.Tracker
	conn    *websocket.Conn
	viewer  *Viewer
	logger  *zap.Logger
}

// readPump consumes client commands until the connection drops, then
// unregisters the viewer.
func (c *client) readPump() {
	defer func() {
		c.hub.Unregister(c.viewer)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("viewer", c.viewer.ID), zap.Error(err))
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.logger.Warn("bad command frame", zap.String("viewer", c.viewer.ID), zap.Error(err))
			continue
		}
		c.handle(cmd)
	}
}

func (c *client) handle(cmd command) {
	switch cmd.Type {
	case "watch":
		c.hub.Watch(c.viewer, cmd.ContactID)
	case "unwatch":
		c.hub.Watch(c.viewer, "")
	case "send":
		if cmd.ContactID == "" || cmd.Body == "" {
			return
		}
		if _, err := c.ing.Send(cmd.ContactID, cmd.Body); err != nil {
			c.logger.Warn("websocket send failed", zap.String("viewer", c.viewer.ID), zap.Error(err))
		}
	case "read":
		if cmd.ContactID == "" {
			return
		}
		if _, err := c.tracker.MarkThreadRead(cmd.ContactID); err != nil {
			c.logger.Warn("websocket mark read failed", zap.String("viewer", c.viewer.ID), zap.Error(err))
		}
	default:
		c.logger.Warn("unknown command", zap.String("viewer", c.viewer.ID), zap.String("type", cmd.Type))
	}
}

// writePump pushes hub frames and keepalive pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.viewer.Frames():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
