// Package pipeline is the authoritative lifecycle for inbound docket
// events: linking them to subscriptions, gating document purchases behind
// sponsorship budgets, and fanning qualifying events out to per-channel
// posting jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/casewatch/bigcases-bot/src/shared/courtlistener"
	"github.com/casewatch/bigcases-bot/src/shared/platforms"
	"github.com/casewatch/bigcases-bot/src/shared/queue"
	"github.com/casewatch/bigcases-bot/src/shared/sponsorship"
	"github.com/casewatch/bigcases-bot/src/shared/status"
	"github.com/casewatch/bigcases-bot/src/shared/types"
	"gorm.io/gorm"
)

// Job types carried on the queue.
const (
	JobLinkFiling     = "filing.link"
	JobCheckFiling    = "filing.check"
	JobFetchCompleted = "fetch.completed"
	JobCheckNewCase   = "case.check"
	JobPostFiling     = "post.filing"
	JobPostNewCase    = "post.newcase"
)

// Record types for fetch-completion callbacks.
const (
	RecordFilingWebhook = "filing_webhook"
	RecordSubscription  = "subscription"
)

// DocketBackend is the purchase backend's contract (lookups are retryable
// inside the client; ErrNotFound is permanent).
type DocketBackend interface {
	LookupDocument(ctx context.Context, docID uint64) (*courtlistener.Document, error)
	LookupDocket(ctx context.Context, docketID uint64) (*courtlistener.Docket, error)
	LookupInitialComplaint(ctx context.Context, docketID uint64) (*courtlistener.Document, error)
	PurchaseDocument(ctx context.Context, docID, docketID uint64) error
	DownloadPDF(ctx context.Context, filepath string) ([]byte, error)
}

// Thumbnailer is the image microservice contract.
type Thumbnailer interface {
	ThumbnailsFromRange(ctx context.Context, pdf []byte, pages []int) ([][]byte, error)
	AddSponsorText(ctx context.Context, imgs [][]byte, text string) ([][]byte, error)
	TextImage(ctx context.Context, text, borderColor string) ([]byte, error)
}

// PosterFactory resolves the posting client for a channel. Swapped for a
// fake in tests.
type PosterFactory func(ch *types.Channel) (platforms.Poster, error)

type Pipeline struct {
	db         *gorm.DB
	q          queue.Enqueuer
	backend    DocketBackend
	thumbs     Thumbnailer
	posterFor  PosterFactory
	postPolicy queue.RetryPolicy
}

func New(db *gorm.DB, q queue.Enqueuer, backend DocketBackend, thumbs Thumbnailer, posterFor PosterFactory, postPolicy queue.RetryPolicy) *Pipeline {
	if posterFor == nil {
		posterFor = platforms.ForChannel
	}
	if postPolicy.MaxAttempts == 0 {
		postPolicy = queue.DefaultPolicy
	}
	return &Pipeline{
		db:         db,
		q:          q,
		backend:    backend,
		thumbs:     thumbs,
		posterFor:  posterFor,
		postPolicy: postPolicy,
	}
}

// ProcessFilingWebhook links an inbound event to the subscription that
// matches its docket id. Replaying the transition for an event already
// past Received is a no-op, so duplicate webhook deliveries cannot rebind.
func (p *Pipeline) ProcessFilingWebhook(ctx context.Context, eventID uint64) error {
	linked := false
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var event types.FilingWebhookEvent
		if err := tx.First(&event, eventID).Error; err != nil {
			return fmt.Errorf("load event %d: %w", eventID, err)
		}

		if event.Status != types.StatusReceived {
			return nil
		}
		if event.DocketID == 0 {
			return nil
		}

		var sub types.Subscription
		if err := tx.First(&sub, "cl_docket_id = ?", event.DocketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Not a case the bot follows.
				event.Status = types.StatusFailed
				return tx.Model(&event).Update("status", types.StatusFailed).Error
			}
			return err
		}

		linked = true
		return tx.Model(&event).Updates(map[string]any{
			"status":          types.StatusLinked,
			"subscription_id": sub.ID,
		}).Error
	})
	if err != nil {
		return err
	}

	if linked {
		if _, err := p.q.Enqueue(ctx, JobCheckFiling, checkFilingPayload{EventID: eventID}, queue.DefaultPolicy); err != nil {
			return err
		}
	}
	return nil
}

// CheckWebhookBeforePosting is the pre-post gate: junk entries are routed
// to Ignored, unavailable documents may trigger a sponsored purchase, and
// everything else is dispatched to the channels.
func (p *Pipeline) CheckWebhookBeforePosting(ctx context.Context, eventID uint64) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var event types.FilingWebhookEvent
		if err := tx.Preload("Subscription").First(&event, eventID).Error; err != nil {
			return fmt.Errorf("load event %d: %w", eventID, err)
		}

		if event.Status != types.StatusLinked {
			// Duplicate delivery or already resolved; nothing to do.
			return nil
		}
		if event.SubscriptionID == nil || event.Subscription == nil {
			return queue.Abort(fmt.Errorf("event %d has no subscription link", event.ID))
		}

		if status.ShouldSuppress(event.Description) {
			return tx.Model(&event).Update("status", types.StatusIgnored).Error
		}

		documentPath := ""
		doc, err := p.backend.LookupDocument(ctx, event.DocID)
		switch {
		case errors.Is(err, courtlistener.ErrNotFound):
			// No archive record; fall through to the purchase gate.
		case err != nil:
			return err
		default:
			documentPath = doc.FilepathLocal
		}

		if documentPath == "" {
			sponsor, err := sponsorship.ActiveForSubscription(tx, *event.SubscriptionID)
			if err != nil {
				return err
			}
			if sponsor != nil && event.PACERDocID != "" && !status.BlocksPurchase(event.Description) {
				if err := p.backend.PurchaseDocument(ctx, event.DocID, event.DocketID); err != nil {
					return err
				}
				return tx.Model(&event).Update("status", types.StatusWaitingForDocument).Error
			}
		}

		// Got the document or no sponsorship. Post what we have.
		return p.dispatchEvent(ctx, tx, &event, documentPath, false)
	})
}

// ProcessFetchWebhook resumes a purchase begun earlier, for either a
// waiting filing event or a subscription awaiting its initial complaint.
// All state is re-derived from the store; nothing captured before the
// purchase is trusted.
func (p *Pipeline) ProcessFetchWebhook(ctx context.Context, recordID uint64, recordType string) error {
	switch recordType {
	case RecordFilingWebhook:
		return p.fetchCompletedForEvent(ctx, recordID)
	case RecordSubscription:
		return p.fetchCompletedForSubscription(ctx, recordID)
	default:
		return queue.Abort(fmt.Errorf("unknown fetch record type %q", recordType))
	}
}

func (p *Pipeline) fetchCompletedForEvent(ctx context.Context, eventID uint64) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var event types.FilingWebhookEvent
		if err := tx.Preload("Subscription").First(&event, eventID).Error; err != nil {
			return fmt.Errorf("load event %d: %w", eventID, err)
		}

		if event.Status == types.StatusDispatched {
			return nil
		}
		if event.SubscriptionID == nil || event.Subscription == nil {
			return queue.Abort(fmt.Errorf("event %d has no subscription link", event.ID))
		}

		doc, err := p.backend.LookupDocument(ctx, event.DocID)
		if err != nil {
			if errors.Is(err, courtlistener.ErrNotFound) {
				return queue.Abort(fmt.Errorf("purchased document %d not in archive", event.DocID))
			}
			return err
		}
		if doc.FilepathLocal == "" {
			return queue.Abort(fmt.Errorf("purchased document %d has no storage path", event.DocID))
		}

		sub := event.Subscription
		if err := p.logPurchase(tx, sub, event.String(), doc.PageCount); err != nil {
			return err
		}

		return p.dispatchEvent(ctx, tx, &event, doc.FilepathLocal, true)
	})
}

func (p *Pipeline) fetchCompletedForSubscription(ctx context.Context, subscriptionID uint64) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var sub types.Subscription
		if err := tx.First(&sub, subscriptionID).Error; err != nil {
			return fmt.Errorf("load subscription %d: %w", subscriptionID, err)
		}

		doc, err := p.backend.LookupInitialComplaint(ctx, sub.CLDocketID)
		if err != nil {
			return err
		}
		if doc == nil {
			return queue.Abort(fmt.Errorf("initial complaint lookup failed for docket %d", sub.CLDocketID))
		}
		if doc.FilepathLocal == "" {
			return queue.Abort(fmt.Errorf("initial complaint for docket %d has no storage path", sub.CLDocketID))
		}

		desc := "Initial Complaint from " + sub.Name
		if err := p.logPurchase(tx, &sub, desc, doc.PageCount); err != nil {
			return err
		}

		return p.dispatchNewCase(ctx, tx, &sub, doc.FilepathLocal, true)
	})
}

func (p *Pipeline) logPurchase(tx *gorm.DB, sub *types.Subscription, description string, pages int) error {
	sponsors, err := sponsorship.ActiveSponsorships(tx, sub.ID)
	if err != nil {
		return err
	}
	if len(sponsors) == 0 {
		return nil
	}
	return sponsorship.LogPurchase(tx, sponsors, sub.ID, sponsorship.Document{
		Description:  description,
		PageCount:    pages,
		DocketNumber: sub.DocketNumber,
		CourtName:    sub.CourtName,
		CourtID:      sub.PACERCourtID,
	})
}

// CheckInitialComplaint is the purchase gate for a freshly followed case.
func (p *Pipeline) CheckInitialComplaint(ctx context.Context, subscriptionID uint64) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var sub types.Subscription
		if err := tx.First(&sub, subscriptionID).Error; err != nil {
			return fmt.Errorf("load subscription %d: %w", subscriptionID, err)
		}

		doc, err := p.backend.LookupInitialComplaint(ctx, sub.CLDocketID)
		if err != nil {
			return err
		}

		documentPath := ""
		if doc != nil {
			documentPath = doc.FilepathLocal
		}

		if documentPath == "" && doc != nil && doc.PACERDocID != "" {
			sponsor, err := sponsorship.ActiveForSubscription(tx, sub.ID)
			if err != nil {
				return err
			}
			if sponsor != nil {
				// Purchase now, post on the fetch-completion callback.
				return p.backend.PurchaseDocument(ctx, doc.ID, sub.CLDocketID)
			}
		}

		return p.dispatchNewCase(ctx, tx, &sub, documentPath, false)
	})
}

// channelsForSubscription enumerates the enabled channels following a
// subscription.
func channelsForSubscription(tx *gorm.DB, subscriptionID uint64) ([]types.Channel, error) {
	var channels []types.Channel
	err := tx.Joins("JOIN channel_subscriptions ON channel_subscriptions.channel_id = channels.id").
		Where("channel_subscriptions.subscription_id = ? AND channels.enabled = ?", subscriptionID, true).
		Find(&channels).Error
	return channels, err
}

// sponsorText resolves the watermark message for a channel's group, when
// the post consumed sponsorship budget.
func sponsorText(tx *gorm.DB, ch types.Channel) string {
	if ch.GroupID == nil {
		return ""
	}
	var s types.Sponsorship
	if err := tx.Where("group_id = ? AND enabled = ?", *ch.GroupID, true).Order("id").First(&s).Error; err != nil {
		return ""
	}
	return s.WatermarkMessage
}

// dispatchEvent fans one ready event out to every enabled channel, one
// independently retried job each, and marks the event dispatched. Fan-out
// only enqueues; it never touches a platform inline.
func (p *Pipeline) dispatchEvent(ctx context.Context, tx *gorm.DB, event *types.FilingWebhookEvent, documentPath string, sponsored bool) error {
	channels, err := channelsForSubscription(tx, *event.SubscriptionID)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		payload := postFilingPayload{
			ChannelID:    ch.ID,
			EventID:      event.ID,
			DocumentPath: documentPath,
		}
		if sponsored {
			payload.SponsorText = sponsorText(tx, ch)
		}
		if _, err := p.q.Enqueue(ctx, JobPostFiling, payload, p.postPolicy); err != nil {
			return fmt.Errorf("enqueue post for channel %d: %w", ch.ID, err)
		}
	}

	log.Printf("event %d: dispatched to %d channel(s)", event.ID, len(channels))
	return tx.Model(event).Update("status", types.StatusDispatched).Error
}

func (p *Pipeline) dispatchNewCase(ctx context.Context, tx *gorm.DB, sub *types.Subscription, documentPath string, sponsored bool) error {
	channels, err := channelsForSubscription(tx, sub.ID)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		payload := postNewCasePayload{
			ChannelID:      ch.ID,
			SubscriptionID: sub.ID,
			DocumentPath:   documentPath,
		}
		if sponsored {
			payload.SponsorText = sponsorText(tx, ch)
		}
		if _, err := p.q.Enqueue(ctx, JobPostNewCase, payload, p.postPolicy); err != nil {
			return fmt.Errorf("enqueue new-case post for channel %d: %w", ch.ID, err)
		}
	}

	log.Printf("subscription %d: new-case posts dispatched to %d channel(s)", sub.ID, len(channels))
	return nil
}

// SweepWaitingEvents re-enqueues a completion check for events stuck in
// WaitingForDocument longer than maxAge. Purchases normally complete via
// webhook; this is the reconciliation path when the callback never lands.
func (p *Pipeline) SweepWaitingEvents(ctx context.Context, maxAge time.Duration) {
	var events []types.FilingWebhookEvent
	cutoff := time.Now().Add(-maxAge)
	if err := p.db.Where("status = ? AND updated_at < ?", types.StatusWaitingForDocument, cutoff).
		Find(&events).Error; err != nil {
		log.Printf("sweep: %v", err)
		return
	}

	for _, event := range events {
		payload := fetchCompletedPayload{RecordID: event.ID, RecordType: RecordFilingWebhook}
		if _, err := p.q.Enqueue(ctx, JobFetchCompleted, payload, queue.DefaultPolicy); err != nil {
			log.Printf("sweep: enqueue event %d: %v", event.ID, err)
			continue
		}
		log.Printf("sweep: re-enqueued fetch check for event %d", event.ID)
	}
}
