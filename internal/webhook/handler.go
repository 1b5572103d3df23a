package webhook

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/status"
	"go.uber.org/zap"
)

// Handler receives provider webhook calls: message batches, delivery
// receipts and the verification handshake.
type Handler struct {
	ing         *ingest.Ingestor
	tracker     *status.Tracker
	verifyToken string
	logger      *zap.Logger
}

// NewHandler creates a webhook handler. verifyToken guards the GET
// verification handshake; an empty token disables it.
func NewHandler(ing *ingest.Ingestor, tracker *status.Tracker, verifyToken string, logger *zap.Logger) *Handler {
	return &Handler{ing: ing, tracker: tracker, verifyToken: verifyToken, logger: logger}
}

// Receive handles POST /webhook. Individual bad messages or receipts are
// logged and skipped so one malformed item never fails the whole batch;
// only storage failures surface as errors.
func (h *Handler) Receive(c *gin.Context) {
	var payload Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	var ingested, duplicates, receipts, skipped int
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, mi := range change.Value.Messages {
				msg, meta, err := ParseMessage(mi, change.Value.Contacts)
				if err != nil {
					h.logger.Warn("skipping webhook message", zap.String("id", mi.ID), zap.Error(err))
					skipped++
					continue
				}
				res, err := h.ing.Ingest(msg, meta)
				if err != nil {
					var verr *ingest.ValidationError
					if errors.As(err, &verr) {
						h.logger.Warn("skipping invalid webhook message", zap.String("id", mi.ID), zap.Error(err))
						skipped++
						continue
					}
					h.logger.Error("webhook ingest failed", zap.String("id", mi.ID), zap.Error(err))
					c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
					return
				}
				if res.Duplicate {
					duplicates++
				} else {
					ingested++
				}
			}

			for _, si := range change.Value.Statuses {
				if !status.Valid(status.Status(si.Status)) {
					h.logger.Warn("skipping unknown receipt status",
						zap.String("id", si.ID), zap.String("status", si.Status))
					skipped++
					continue
				}
				_, changed, err := h.tracker.Update(si.CorrelationKey(), status.Status(si.Status))
				switch {
				case errors.Is(err, status.ErrNotFound):
					skipped++
				case err != nil:
					// Illegal transitions are receipt noise, not batch failures.
					h.logger.Warn("receipt rejected", zap.String("id", si.ID), zap.Error(err))
					skipped++
				case changed:
					receipts++
				}
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"ingested":   ingested,
		"duplicates": duplicates,
		"receipts":   receipts,
		"skipped":    skipped,
	})
}

// Verify handles the GET subscription handshake: echo the challenge when
// the token matches.
func (h *Handler) Verify(c *gin.Context) {
	if h.verifyToken == "" {
		c.Status(http.StatusNotFound)
		return
	}
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")
	if mode == "subscribe" && token == h.verifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}
