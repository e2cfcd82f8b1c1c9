package webserver

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/casewatch/bigcases-bot/src/BCBot/pipeline"
	"github.com/casewatch/bigcases-bot/src/shared/courtlistener"
	"github.com/casewatch/bigcases-bot/src/shared/queue"
	"github.com/casewatch/bigcases-bot/src/shared/types"
)

type Admin struct {
	db *gorm.DB
	q  *queue.Queue
}

func NewAdmin(db *gorm.DB, q *queue.Queue) Admin {
	return Admin{db: db, q: q}
}

// FollowCase creates a subscription, binds it to channels, and kicks off
// the initial-complaint check that produces the announcement posts.
func (a Admin) FollowCase(c *gin.Context) {
	var req struct {
		CLDocketID   uint64   `json:"cl_docket_id" binding:"required"`
		Name         string   `json:"name" binding:"required,max=255"`
		Summary      string   `json:"summary" binding:"max=255"`
		CLURL        string   `json:"cl_url" binding:"required,url"`
		ArticleURL   string   `json:"article_url" binding:"omitempty,url"`
		CourtID      string   `json:"court_id" binding:"required,max=16"`
		CourtName    string   `json:"court_name" binding:"max=128"`
		PACERCourtID string   `json:"pacer_court_id" binding:"max=16"`
		DocketNumber string   `json:"docket_number" binding:"max=64"`
		ChannelIDs   []uint64 `json:"channel_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	sub := types.Subscription{
		CLDocketID:   req.CLDocketID,
		Name:         req.Name,
		Summary:      req.Summary,
		CLURL:        req.CLURL,
		ArticleURL:   req.ArticleURL,
		CourtID:      req.CourtID,
		CourtName:    req.CourtName,
		PACERCourtID: req.PACERCourtID,
		DocketNumber: req.DocketNumber,
		Bankruptcy:   courtlistener.IsBankruptcy(req.CourtID),
	}

	err := a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&sub).Error; err != nil {
			return err
		}
		for _, chID := range req.ChannelIDs {
			link := types.ChannelSubscription{ChannelID: chID, SubscriptionID: sub.ID}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("follow case %d: %v", req.CLDocketID, err)
		c.JSON(http.StatusConflict, gin.H{"err": "failed to create subscription"})
		return
	}

	if _, err := a.q.Enqueue(c, pipeline.JobCheckNewCase,
		gin.H{"subscription_id": sub.ID}, queue.DefaultPolicy); err != nil {
		log.Printf("follow case %d: enqueue check: %v", req.CLDocketID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"err": "subscription created but check not enqueued"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": sub.ID})
}

func (a Admin) ListChannels(c *gin.Context) {
	var channels []types.Channel
	if err := a.db.Order("id").Find(&channels).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(channels))
	for _, ch := range channels {
		out = append(out, gin.H{
			"id":      ch.ID,
			"service": ch.Service,
			"name":    ch.Name,
			"enabled": ch.Enabled,
		})
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

func (a Admin) UpdateChannel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad channel id"})
		return
	}

	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	res := a.db.Model(&types.Channel{}).Where("id = ?", id).Update("enabled", *req.Enabled)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"err": "channel not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeadJobs exposes the dead-letter list so exhausted posting jobs stay
// inspectable.
func (a Admin) DeadJobs(c *gin.Context) {
	jobs, err := a.q.DeadJobs(c, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
