package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// MessageService exposes the message log over HTTP: history pages, local
// sends, status transitions, deletes and search.
type MessageService struct {
	db      store.Store
	ing     *ingest.Ingestor
	tracker *status.Tracker
	logger  *zap.Logger
}

// NewMessageService creates the message HTTP service.
func NewMessageService(db store.Store, ing *ingest.Ingestor, tracker *status.Tracker, logger *zap.Logger) *MessageService {
	return &MessageService{db: db, ing: ing, tracker: tracker, logger: logger}
}

type messageJSON struct {
	MsgID         string `json:"msg_id"`
	ContactID     string `json:"contact_id"`
	Direction     string `json:"direction"`
	Kind          string `json:"kind"`
	Body          string `json:"body"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Status        string `json:"status"`
	Timestamp     int64  `json:"timestamp"`
}

func toJSON(m *store.Message) messageJSON {
	return messageJSON{
		MsgID:         m.MsgID,
		ContactID:     m.ContactID,
		Direction:     string(m.Direction),
		Kind:          string(m.Kind),
		Body:          m.Body,
		CorrelationID: m.CorrelationID,
		Status:        m.Status,
		Timestamp:     m.Timestamp,
	}
}

func toJSONList(msgs []store.Message) []messageJSON {
	out := make([]messageJSON, len(msgs))
	for i := range msgs {
		out[i] = toJSON(&msgs[i])
	}
	return out
}

// List handles GET /api/conversations/:contact_id/messages. Pages backwards
// through history: before is an exclusive millisecond timestamp cursor.
func (s *MessageService) List(c *gin.Context) {
	contactID := c.Param("contact_id")

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxPageSize)
	}

	var before int64
	if raw := c.Query("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be a positive timestamp"})
			return
		}
		before = n
	}

	msgs, err := s.db.ListMessages(contactID, before, limit)
	if err != nil {
		s.logger.Error("list messages failed", zap.String("contact_id", contactID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": toJSONList(msgs)})
}

type sendRequest struct {
	ContactID string `json:"contact_id" binding:"required"`
	Body      string `json:"body" binding:"required"`
}

// Send handles POST /api/messages: compose a local outbound text.
func (s *MessageService) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contact_id and body are required"})
		return
	}
	msg, err := s.ing.Send(req.ContactID, req.Body)
	if err != nil {
		s.logger.Error("send failed", zap.String("contact_id", req.ContactID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": toJSON(msg)})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus handles PATCH /api/messages/:id/status. The id may be the
// message's own id or a correlation id from the provider.
func (s *MessageService) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	to := status.Status(req.Status)
	if !status.Valid(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status value"})
		return
	}

	msg, changed, err := s.tracker.Update(c.Param("id"), to)
	switch {
	case errors.Is(err, status.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case err != nil && msg != nil:
		// Illegal transition; stored state untouched.
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "message": toJSON(msg)})
	case err != nil:
		s.logger.Error("status update failed", zap.String("id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": toJSON(msg), "changed": changed})
	}
}

// Delete handles DELETE /api/messages/:id.
func (s *MessageService) Delete(c *gin.Context) {
	err := s.ing.Delete(c.Param("id"))
	switch {
	case errors.Is(err, status.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case err != nil:
		s.logger.Error("delete failed", zap.String("id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
	default:
		c.Status(http.StatusNoContent)
	}
}

// Search handles GET /api/messages/search?q=...&contact_id=...&limit=...
func (s *MessageService) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxPageSize)
	}

	msgs, err := s.db.SearchMessages(q, c.Query("contact_id"), limit)
	if err != nil {
		s.logger.Error("search failed", zap.String("q", q), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": toJSONList(msgs)})
}
