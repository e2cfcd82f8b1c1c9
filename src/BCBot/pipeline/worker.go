package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/casewatch/bigcases-bot/src/shared/platforms"
	"github.com/casewatch/bigcases-bot/src/shared/queue"
	"github.com/casewatch/bigcases-bot/src/shared/status"
	"github.com/casewatch/bigcases-bot/src/shared/types"
)

// minCaseAgeForDate: new-case posts only mention the filing date when the
// case is old enough that "just filed" would mislead.
const minCaseAgeForDate = 30 * 24 * time.Hour

type linkFilingPayload struct {
	EventID uint64 `json:"event_id"`
}

type checkFilingPayload struct {
	EventID uint64 `json:"event_id"`
}

type fetchCompletedPayload struct {
	RecordID   uint64 `json:"record_id"`
	RecordType string `json:"record_type"`
}

type checkNewCasePayload struct {
	SubscriptionID uint64 `json:"subscription_id"`
}

type postFilingPayload struct {
	ChannelID    uint64 `json:"channel_id"`
	EventID      uint64 `json:"event_id"`
	DocumentPath string `json:"document_path,omitempty"`
	SponsorText  string `json:"sponsor_text,omitempty"`
}

type postNewCasePayload struct {
	ChannelID      uint64 `json:"channel_id"`
	SubscriptionID uint64 `json:"subscription_id"`
	DocumentPath   string `json:"document_path,omitempty"`
	SponsorText    string `json:"sponsor_text,omitempty"`
}

// RegisterHandlers binds every pipeline job type to q.
func (p *Pipeline) RegisterHandlers(q *queue.Queue) {
	q.Handle(JobLinkFiling, func(ctx context.Context, raw json.RawMessage) error {
		var pl linkFilingPayload
		if err := json.Unmarshal(raw, &pl); err != nil {
			return queue.Abort(err)
		}
		return p.ProcessFilingWebhook(ctx, pl.EventID)
	})

	q.Handle(JobCheckFiling, func(ctx context.Context, raw json.RawMessage) error {
		var pl checkFilingPayload
		if err := json.Unmarshal(raw, &pl); err != nil {
			return queue.Abort(err)
		}
		return p.CheckWebhookBeforePosting(ctx, pl.EventID)
	})

	q.Handle(JobFetchCompleted, func(ctx context.Context, raw json.RawMessage) error {
		var pl fetchCompletedPayload
		if err := json.Unmarshal(raw, &pl); err != nil {
			return queue.Abort(err)
		}
		return p.ProcessFetchWebhook(ctx, pl.RecordID, pl.RecordType)
	})

	q.Handle(JobCheckNewCase, func(ctx context.Context, raw json.RawMessage) error {
		var pl checkNewCasePayload
		if err := json.Unmarshal(raw, &pl); err != nil {
			return queue.Abort(err)
		}
		return p.CheckInitialComplaint(ctx, pl.SubscriptionID)
	})

	q.Handle(JobPostFiling, func(ctx context.Context, raw json.RawMessage) error {
		var pl postFilingPayload
		if err := json.Unmarshal(raw, &pl); err != nil {
			return queue.Abort(err)
		}
		return p.MakePostForEvent(ctx, pl)
	})

	q.Handle(JobPostNewCase, func(ctx context.Context, raw json.RawMessage) error {
		var pl postNewCasePayload
		if err := json.Unmarshal(raw, &pl); err != nil {
			return queue.Abort(err)
		}
		return p.MakePostForNewCase(ctx, pl)
	})
}

// borderColor looks up the group border color for a channel, when it
// belongs to one.
func (p *Pipeline) borderColor(ch *types.Channel) string {
	if ch.GroupID == nil {
		return ""
	}
	var group types.Group
	if err := p.db.First(&group, *ch.GroupID).Error; err != nil {
		return ""
	}
	return group.BorderColor
}

// attachments downloads the document and derives its thumbnails: three
// pages when the template already produced a status image, four otherwise.
// Sponsor text, when present, is watermarked onto every thumbnail.
func (p *Pipeline) attachments(ctx context.Context, documentPath, sponsor string, hasStatusImage bool) ([][]byte, error) {
	if documentPath == "" {
		return nil, nil
	}

	pdf, err := p.backend.DownloadPDF(ctx, documentPath)
	if err != nil {
		return nil, err
	}

	pages := []int{1, 2, 3, 4}
	if hasStatusImage {
		pages = []int{1, 2, 3}
	}
	files, err := p.thumbs.ThumbnailsFromRange(ctx, pdf, pages)
	if err != nil {
		return nil, err
	}

	if sponsor != "" && len(files) > 0 {
		files, err = p.thumbs.AddSponsorText(ctx, files, sponsor)
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// publish renders any pending text image, posts, and classifies the error:
// platform rejections abort the job, anything else retries.
func (p *Pipeline) publish(ctx context.Context, ch *types.Channel, message string, img *status.Image, files [][]byte) (string, error) {
	var imageBytes []byte
	if img != nil {
		rendered, err := p.thumbs.TextImage(ctx, img.Text, img.BorderColor)
		if err != nil {
			return "", err
		}
		imageBytes = rendered
	}

	poster, err := p.posterFor(ch)
	if err != nil {
		return "", queue.Abort(err)
	}

	postID, err := poster.Post(ctx, message, imageBytes, files)
	if err != nil {
		if platforms.IsPermanent(err) {
			return "", queue.Abort(err)
		}
		return "", err
	}
	return postID, nil
}

// MakePostForEvent is the per-channel posting job for a docket filing. It
// reloads everything from the store and re-renders the message; the render
// done here, not any earlier one, is what goes out.
func (p *Pipeline) MakePostForEvent(ctx context.Context, pl postFilingPayload) error {
	var ch types.Channel
	if err := p.db.First(&ch, pl.ChannelID).Error; err != nil {
		return fmt.Errorf("load channel %d: %w", pl.ChannelID, err)
	}

	var event types.FilingWebhookEvent
	if err := p.db.Preload("Subscription").First(&event, pl.EventID).Error; err != nil {
		return fmt.Errorf("load event %d: %w", pl.EventID, err)
	}
	if event.Subscription == nil {
		return queue.Abort(fmt.Errorf("event %d has no subscription link", event.ID))
	}

	tpl := status.TemplateForChannel(ch.Service, event.DocumentNumber)
	tpl.BorderColor = p.borderColor(&ch)

	message, img := tpl.Format(map[string]string{
		"docket":      event.Subscription.NameWithSummary(),
		"description": event.Description,
		"doc_num":     event.DocumentNumberWithAttachment(),
		"pdf_link":    event.PDFURL(),
		"docket_link": event.DocketURL(),
	})

	files, err := p.attachments(ctx, pl.DocumentPath, pl.SponsorText, img != nil)
	if err != nil {
		return err
	}

	postID, err := p.publish(ctx, &ch, message, img, files)
	if err != nil {
		return err
	}

	eventID := event.ID
	post := types.Post{
		FilingWebhookEventID: &eventID,
		SubscriptionID:       event.Subscription.ID,
		ChannelID:            ch.ID,
		ObjectID:             postID,
		Text:                 message,
	}
	if err := p.db.Create(&post).Error; err != nil {
		return fmt.Errorf("record post for event %d channel %d: %w", event.ID, ch.ID, err)
	}

	log.Printf("event %d: posted to channel %d (%s)", event.ID, ch.ID, postID)
	return nil
}

// MakePostForNewCase announces a freshly followed case on one channel.
// Docket metadata and the initial complaint are looked up fresh here.
func (p *Pipeline) MakePostForNewCase(ctx context.Context, pl postNewCasePayload) error {
	var ch types.Channel
	if err := p.db.First(&ch, pl.ChannelID).Error; err != nil {
		return fmt.Errorf("load channel %d: %w", pl.ChannelID, err)
	}

	var sub types.Subscription
	if err := p.db.First(&sub, pl.SubscriptionID).Error; err != nil {
		return fmt.Errorf("load subscription %d: %w", pl.SubscriptionID, err)
	}

	values := map[string]string{
		"docket":      sub.NameWithSummary(),
		"docket_link": sub.CLURL,
		"article_url": sub.ArticleURL,
	}

	if docket, err := p.backend.LookupDocket(ctx, sub.CLDocketID); err == nil && docket != nil {
		if filed, ok := docket.DateFiledTime(); ok && time.Since(filed) >= minCaseAgeForDate {
			values["date_filed"] = filed.Format("Jan 2, 2006")
		}
	}

	if initial, err := p.backend.LookupInitialComplaint(ctx, sub.CLDocketID); err == nil && initial != nil && initial.AbsoluteURL != "" {
		complaintType := "Complaint"
		if sub.Bankruptcy {
			complaintType = "Petition"
		}
		values["initial_complaint_type"] = complaintType
		values["initial_complaint_link"] = "https://www.courtlistener.com" + initial.AbsoluteURL
	}

	tpl := status.NewCaseTemplate(ch.Service)
	tpl.BorderColor = p.borderColor(&ch)
	message, img := tpl.Format(values)

	files, err := p.attachments(ctx, pl.DocumentPath, pl.SponsorText, img != nil)
	if err != nil {
		return err
	}

	postID, err := p.publish(ctx, &ch, message, img, files)
	if err != nil {
		return err
	}

	post := types.Post{
		SubscriptionID: sub.ID,
		ChannelID:      ch.ID,
		ObjectID:       postID,
		Text:           message,
	}
	if err := p.db.Create(&post).Error; err != nil {
		return fmt.Errorf("record new-case post for subscription %d channel %d: %w", sub.ID, ch.ID, err)
	}

	log.Printf("subscription %d: new-case post on channel %d (%s)", sub.ID, ch.ID, postID)
	return nil
}
