package types

import (
	"fmt"
	"time"
)

// FilingWebhookEvent statuses. A webhook event moves through these in one
// direction only; Failed, Ignored and Dispatched are terminal.
const (
	StatusReceived           = 0
	StatusLinked             = 1
	StatusFailed             = 2
	StatusIgnored            = 3
	StatusWaitingForDocument = 4
	StatusDispatched         = 5
)

// Channel services
const (
	ServiceMastodon = 1
	ServiceTwitter  = 2
	ServiceThreads  = 3
	ServiceDiscord  = 4
)

// Followed cases
type Subscription struct {
	ID           uint64 `gorm:"primaryKey"`
	CLDocketID   uint64 `gorm:"uniqueIndex;not null"`
	Name         string `gorm:"size:255;not null"`
	Summary      string `gorm:"size:255"`
	CLURL        string `gorm:"size:256;not null"`
	ArticleURL   string `gorm:"size:256"`
	CourtID      string `gorm:"size:16;not null"`
	CourtName    string `gorm:"size:128"`
	PACERCourtID string `gorm:"size:16"`
	DocketNumber string `gorm:"size:64"`
	Bankruptcy   bool   `gorm:"default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NameWithSummary joins the case name and its short summary for display.
func (s Subscription) NameWithSummary() string {
	if s.Summary == "" {
		return s.Name
	}
	return s.Name + " " + s.Summary
}

// Inbound docket-alert notifications. The unique index makes intake
// idempotent under at-least-once webhook delivery. Minute entries carry no
// document, so their identity falls back to the description hash; it is
// empty for entries with a real document id.
type FilingWebhookEvent struct {
	ID               uint64 `gorm:"primaryKey"`
	DocketID         uint64 `gorm:"index;not null;uniqueIndex:ux_event_identity,priority:1"`
	DocID            uint64 `gorm:"not null;uniqueIndex:ux_event_identity,priority:2"`
	PACERDocID       string `gorm:"size:64"`
	Description      string `gorm:"type:text"`
	DescriptionHash  string `gorm:"size:64;uniqueIndex:ux_event_identity,priority:5"`
	DocumentNumber   string `gorm:"size:16;uniqueIndex:ux_event_identity,priority:3"`
	AttachmentNumber string `gorm:"size:16;uniqueIndex:ux_event_identity,priority:4"`
	Status           int    `gorm:"default:0;index"`
	SubscriptionID   *uint64
	Subscription     *Subscription `gorm:"foreignKey:SubscriptionID;references:ID"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentNumberWithAttachment renders "23" or "23-2" for attachments.
func (e FilingWebhookEvent) DocumentNumberWithAttachment() string {
	if e.AttachmentNumber != "" {
		return e.DocumentNumber + "-" + e.AttachmentNumber
	}
	return e.DocumentNumber
}

// DocketURL is the canonical docket page for this event's case.
func (e FilingWebhookEvent) DocketURL() string {
	return fmt.Sprintf("https://www.courtlistener.com/docket/%d/", e.DocketID)
}

// PDFURL points at the archived document, or the PACER copy when the
// archive has none.
func (e FilingWebhookEvent) PDFURL() string {
	if e.DocID != 0 {
		return fmt.Sprintf("https://www.courtlistener.com/docket/%d/%s/", e.DocketID, e.DocumentNumber)
	}
	return fmt.Sprintf("https://pacer.login.uscourts.gov/doc/%s", e.PACERDocID)
}

func (e FilingWebhookEvent) String() string {
	return fmt.Sprintf("Doc #%s: %s", e.DocumentNumberWithAttachment(), e.Description)
}

// Posting destinations
type Channel struct {
	ID      uint64 `gorm:"primaryKey"`
	Service int    `gorm:"not null;index"`
	Name    string `gorm:"size:64;not null"`
	Enabled bool   `gorm:"index"`
	GroupID *uint64
	Group   *Group `gorm:"foreignKey:GroupID;references:ID"`

	// Credential handles, one set per service. Only the fields for the
	// channel's own service are populated.
	ServerURL      string `gorm:"size:256"` // mastodon instance
	AccessToken    string `gorm:"size:256"` // mastodon / threads bearer
	ConsumerKey    string `gorm:"size:128"` // twitter oauth1
	ConsumerSecret string `gorm:"size:128"`
	TokenKey       string `gorm:"size:128"`
	TokenSecret    string `gorm:"size:128"`
	AccountID      string `gorm:"size:64"`  // threads user id
	DiscordChannel string `gorm:"size:64"`  // discord channel id
	BotToken       string `gorm:"size:128"` // discord bot token
}

// Channel / subscription mapping
type ChannelSubscription struct {
	ChannelID      uint64 `gorm:"primaryKey"`
	SubscriptionID uint64 `gorm:"primaryKey"`
}

// Channel groups share branding and sponsorships.
type Group struct {
	ID          uint64 `gorm:"primaryKey"`
	Name        string `gorm:"size:64;not null"`
	BorderColor string `gorm:"size:16;default:#F3C33E"`
}

// Sponsorships authorize purchasing a bounded number of documents for the
// channels of a group.
type Sponsorship struct {
	ID               uint64 `gorm:"primaryKey"`
	GroupID          uint64 `gorm:"index;not null"`
	WatermarkMessage string `gorm:"size:128;not null"`
	DocumentLimit    int    `gorm:"default:0"`
	Enabled          bool
	CreatedAt        time.Time
}

// Purchase ledger entries, one per bought document.
type Purchase struct {
	ID             uint64 `gorm:"primaryKey"`
	SponsorshipID  uint64 `gorm:"index;not null"`
	SubscriptionID uint64 `gorm:"index;not null"`
	Description    string `gorm:"size:255"`
	PageCount      int
	DocketNumber   string  `gorm:"size:64"`
	CourtName      string  `gorm:"size:128"`
	CourtID        string  `gorm:"size:16"`
	Cost           float64 // dollars, for operator reporting only
	CreatedAt      time.Time
}

// Posts record every successful publish, one per (event, channel).
type Post struct {
	ID                   uint64 `gorm:"primaryKey"`
	FilingWebhookEventID *uint64
	SubscriptionID       uint64 `gorm:"index;not null"`
	ChannelID            uint64 `gorm:"index;not null"`
	ObjectID             string `gorm:"size:128;not null"`
	Text                 string `gorm:"type:text;not null"`
	CreatedAt            time.Time
}

// Settings
type Setting struct {
	ID    uint8  `gorm:"primaryKey"`
	Name  string `gorm:"size:32;not null"`
	Value string `gorm:"size:256;not null"`
}
