package api

import (
	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatd/internal/hub"
	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/webhook"
	"go.uber.org/zap"
)

// NewRouter builds the daemon's HTTP surface: REST API, provider webhook
// and the websocket endpoint.
func NewRouter(
	msgs *MessageService,
	convs *ConversationService,
	wh *webhook.Handler,
	h *hub.Hub,
	ing *ingest.Ingestor,
	tracker *status.Tracker,
	logger *zap.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/conversations", convs.List)
		api.GET("/conversations/:contact_id/messages", msgs.List)
		api.POST("/conversations/:contact_id/read", convs.MarkRead)
		api.POST("/messages", msgs.Send)
		api.PATCH("/messages/:id/status", msgs.UpdateStatus)
		api.DELETE("/messages/:id", msgs.Delete)
		api.GET("/messages/search", msgs.Search)
		api.GET("/stats", convs.Stats)
		api.GET("/health", convs.Health)
	}

	r.POST("/webhook", wh.Receive)
	r.GET("/webhook", wh.Verify)
	r.GET("/ws", hub.ServeWS(h, ing, tracker, logger))

	return r
}
