// Package sponsorship decides whether a purchase may be charged to a group
// budget and keeps the ledger of what was bought.
package sponsorship

import (
	"fmt"
	"log"

	"github.com/casewatch/bigcases-bot/src/shared/types"
	"gorm.io/gorm"
)

// Document describes a purchased filing for the ledger. It is a value
// object; the pipeline never persists documents themselves.
type Document struct {
	Description  string
	PageCount    int
	DocketNumber string
	CourtName    string
	CourtID      string
}

// Cost is what the purchase drew from the budget: $0.10 a page, capped at
// $3.00, PACER's own schedule.
func (d Document) Cost() float64 {
	cost := float64(d.PageCount) * 0.10
	if cost > 3.00 {
		return 3.00
	}
	return cost
}

// groupIDsForSubscription finds the groups whose channels follow the
// subscription.
func groupIDsForSubscription(db *gorm.DB, subscriptionID uint64) ([]uint64, error) {
	var ids []uint64
	err := db.Model(&types.Channel{}).
		Distinct("channels.group_id").
		Joins("JOIN channel_subscriptions ON channel_subscriptions.channel_id = channels.id").
		Where("channel_subscriptions.subscription_id = ? AND channels.enabled = ? AND channels.group_id IS NOT NULL",
			subscriptionID, true).
		Pluck("channels.group_id", &ids).Error
	return ids, err
}

func isActive(db *gorm.DB, s types.Sponsorship) bool {
	if !s.Enabled || s.DocumentLimit <= 0 {
		return false
	}
	var used int64
	if err := db.Model(&types.Purchase{}).Where("sponsorship_id = ?", s.ID).Count(&used).Error; err != nil {
		log.Printf("sponsorship %d: count purchases: %v", s.ID, err)
		return false
	}
	return used < int64(s.DocumentLimit)
}

// ActiveForSubscription returns the first sponsorship with budget left
// among the groups following the subscription, or nil when none applies.
func ActiveForSubscription(db *gorm.DB, subscriptionID uint64) (*types.Sponsorship, error) {
	groupIDs, err := groupIDsForSubscription(db, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("sponsor groups for subscription %d: %w", subscriptionID, err)
	}
	if len(groupIDs) == 0 {
		return nil, nil
	}

	var sponsorships []types.Sponsorship
	if err := db.Where("group_id IN ? AND enabled = ?", groupIDs, true).
		Order("id").Find(&sponsorships).Error; err != nil {
		return nil, err
	}
	for _, s := range sponsorships {
		if isActive(db, s) {
			active := s
			return &active, nil
		}
	}
	return nil, nil
}

// ActiveSponsorships returns every sponsorship with budget left across the
// subscription's groups, one per consuming group, for ledger logging.
func ActiveSponsorships(db *gorm.DB, subscriptionID uint64) ([]types.Sponsorship, error) {
	groupIDs, err := groupIDsForSubscription(db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if len(groupIDs) == 0 {
		return nil, nil
	}

	var sponsorships []types.Sponsorship
	if err := db.Where("group_id IN ? AND enabled = ?", groupIDs, true).
		Order("id").Find(&sponsorships).Error; err != nil {
		return nil, err
	}

	var active []types.Sponsorship
	seenGroup := make(map[uint64]bool)
	for _, s := range sponsorships {
		if seenGroup[s.GroupID] || !isActive(db, s) {
			continue
		}
		seenGroup[s.GroupID] = true
		active = append(active, s)
	}
	return active, nil
}

// LogPurchase records one ledger entry per consuming sponsorship.
func LogPurchase(db *gorm.DB, sponsorships []types.Sponsorship, subscriptionID uint64, doc Document) error {
	for _, s := range sponsorships {
		entry := types.Purchase{
			SponsorshipID:  s.ID,
			SubscriptionID: subscriptionID,
			Description:    doc.Description,
			PageCount:      doc.PageCount,
			DocketNumber:   doc.DocketNumber,
			CourtName:      doc.CourtName,
			CourtID:        doc.CourtID,
			Cost:           doc.Cost(),
		}
		if err := db.Create(&entry).Error; err != nil {
			return fmt.Errorf("log purchase for sponsorship %d: %w", s.ID, err)
		}
	}
	return nil
}
