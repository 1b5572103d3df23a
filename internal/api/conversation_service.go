package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatd/internal/conv"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

// ConversationService exposes the conversation list, thread reads and
// instance stats over HTTP.
type ConversationService struct {
	db      store.Store
	agg     *conv.Aggregator
	tracker *status.Tracker
	logger  *zap.Logger
	started time.Time
}

// NewConversationService creates the conversation HTTP service.
func NewConversationService(db store.Store, agg *conv.Aggregator, tracker *status.Tracker, logger *zap.Logger) *ConversationService {
	return &ConversationService{db: db, agg: agg, tracker: tracker, logger: logger, started: time.Now()}
}

type conversationJSON struct {
	ContactID   string       `json:"contact_id"`
	DisplayName string       `json:"display_name"`
	AvatarRef   string       `json:"avatar_ref,omitempty"`
	Presence    string       `json:"presence"`
	LastSeen    int64        `json:"last_seen,omitempty"`
	LastMessage *messageJSON `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}

func toConversationJSON(e *conv.Entry) conversationJSON {
	out := conversationJSON{
		ContactID:   e.ContactID,
		DisplayName: e.DisplayName,
		AvatarRef:   e.AvatarRef,
		Presence:    e.Presence,
		LastSeen:    e.LastSeen,
		UnreadCount: e.UnreadCount,
	}
	if e.LastMessage != nil {
		m := toJSON(e.LastMessage)
		out.LastMessage = &m
	}
	return out
}

// List handles GET /api/conversations: newest-first digest of every thread.
func (s *ConversationService) List(c *gin.Context) {
	entries := s.agg.List()
	out := make([]conversationJSON, len(entries))
	for i := range entries {
		out[i] = toConversationJSON(&entries[i])
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

// MarkRead handles POST /api/conversations/:contact_id/read.
func (s *ConversationService) MarkRead(c *gin.Context) {
	contactID := c.Param("contact_id")
	n, err := s.tracker.MarkThreadRead(contactID)
	if err != nil {
		s.logger.Error("mark read failed", zap.String("contact_id", contactID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// Stats handles GET /api/stats.
func (s *ConversationService) Stats(c *gin.Context) {
	messages, err := s.db.MessageCount()
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	contacts, err := s.db.ContactCount()
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	unread := 0
	for _, e := range s.agg.List() {
		unread += e.UnreadCount
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":      messages,
		"contacts":      contacts,
		"conversations": len(s.agg.List()),
		"unread":        unread,
	})
}

// Health handles GET /api/health.
func (s *ConversationService) Health(c *gin.Context) {
	if _, err := s.db.MessageCount(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "storage unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}
