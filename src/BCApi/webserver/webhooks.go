package webserver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"

	"github.com/casewatch/bigcases-bot/src/BCBot/pipeline"
	"github.com/casewatch/bigcases-bot/src/shared/queue"
	"github.com/casewatch/bigcases-bot/src/shared/types"
)

// RequireWebhookToken gates the webhook endpoints behind the shared token
// the archive includes with every delivery.
func RequireWebhookToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("X-Webhook-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "bad webhook token"})
			return
		}
		c.Next()
	}
}

type Webhooks struct {
	db        *gorm.DB
	q         *queue.Queue
	sanitizer *bluemonday.Policy
}

func NewWebhooks(db *gorm.DB, q *queue.Queue) Webhooks {
	// Docket descriptions come in as free text that may carry markup.
	return Webhooks{db: db, q: q, sanitizer: bluemonday.StrictPolicy()}
}

type recapDocument struct {
	ID               uint64  `json:"id"`
	PACERDocID       string  `json:"pacer_doc_id"`
	DocumentNumber   string  `json:"document_number"`
	AttachmentNumber *string `json:"attachment_number"`
	Description      string  `json:"description"`
}

type docketEntry struct {
	Docket         uint64          `json:"docket"`
	Description    string          `json:"description"`
	RecapDocuments []recapDocument `json:"recap_documents"`
}

// DocketAlert ingests one docket-alert delivery. Deliveries are
// at-least-once; the event identity index makes re-delivery converge on
// the same row, and the link transition is a no-op on replay.
func (w Webhooks) DocketAlert(c *gin.Context) {
	var req struct {
		Payload struct {
			Results []docketEntry `json:"results"`
		} `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	created := 0
	for _, entry := range req.Payload.Results {
		for _, doc := range entry.RecapDocuments {
			description := entry.Description
			if doc.Description != "" {
				description = doc.Description
			}
			description = strings.TrimSpace(w.sanitizer.Sanitize(description))

			event := types.FilingWebhookEvent{
				DocketID:       entry.Docket,
				DocID:          doc.ID,
				PACERDocID:     doc.PACERDocID,
				Description:    description,
				DocumentNumber: doc.DocumentNumber,
			}
			if doc.AttachmentNumber != nil {
				event.AttachmentNumber = *doc.AttachmentNumber
			}
			if doc.ID == 0 {
				// Minute entries have no document id to key on; hash the
				// description so distinct entries on one docket stay apart
				// while identical re-deliveries converge.
				sum := sha256.Sum256([]byte(description))
				event.DescriptionHash = hex.EncodeToString(sum[:])
			}

			// Map conditions so zero values (minute entries: doc id 0,
			// empty document number) participate in the match.
			err := w.db.Where(map[string]any{
				"docket_id":         event.DocketID,
				"doc_id":            event.DocID,
				"document_number":   event.DocumentNumber,
				"attachment_number": event.AttachmentNumber,
				"description_hash":  event.DescriptionHash,
			}).FirstOrCreate(&event).Error
			if err != nil {
				log.Printf("webhook: store event for doc %d: %v", doc.ID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to store event"})
				return
			}
			created++

			if _, err := w.q.Enqueue(c, pipeline.JobLinkFiling,
				gin.H{"event_id": event.ID}, queue.DefaultPolicy); err != nil {
				log.Printf("webhook: enqueue link for event %d: %v", event.ID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to enqueue"})
				return
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"events": created})
}

// RecapFetch is the purchase backend's completion callback. The document
// id is resolved back to whatever is waiting on it: a filing event in
// WaitingForDocument, or a subscription awaiting its initial complaint.
func (w Webhooks) RecapFetch(c *gin.Context) {
	var req struct {
		Payload struct {
			RecapDocument uint64 `json:"recap_document"`
			Docket        uint64 `json:"docket"`
			Status        int    `json:"status"`
		} `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	var event types.FilingWebhookEvent
	err := w.db.Where("doc_id = ? AND status = ?", req.Payload.RecapDocument, types.StatusWaitingForDocument).
		First(&event).Error
	if err == nil {
		if _, err := w.q.Enqueue(c, pipeline.JobFetchCompleted,
			gin.H{"record_id": event.ID, "record_type": pipeline.RecordFilingWebhook},
			queue.DefaultPolicy); err != nil {
			log.Printf("webhook: enqueue fetch completion for event %d: %v", event.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to enqueue"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": event.ID, "type": pipeline.RecordFilingWebhook})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "lookup failed"})
		return
	}

	// No waiting filing event: an initial-complaint purchase for a newly
	// followed case.
	var sub types.Subscription
	if err := w.db.Where("cl_docket_id = ?", req.Payload.Docket).First(&sub).Error; err != nil {
		log.Printf("webhook: fetch completion for unknown doc %d / docket %d",
			req.Payload.RecapDocument, req.Payload.Docket)
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}

	if _, err := w.q.Enqueue(c, pipeline.JobFetchCompleted,
		gin.H{"record_id": sub.ID, "record_type": pipeline.RecordSubscription},
		queue.DefaultPolicy); err != nil {
		log.Printf("webhook: enqueue fetch completion for subscription %d: %v", sub.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"err": "failed to enqueue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": sub.ID, "type": pipeline.RecordSubscription})
}
