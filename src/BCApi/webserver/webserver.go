package webserver

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/casewatch/bigcases-bot/src/BCApi/config"
	"github.com/casewatch/bigcases-bot/src/shared/queue"
)

func New(cfg config.Config, db *gorm.DB, q *queue.Queue) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	g.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: []string{"GET", "POST", "PATCH"},
		AllowHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
	}))

	attachRoutes(g, cfg, db, q)
	return g
}

func attachRoutes(g *gin.Engine, cfg config.Config, db *gorm.DB, q *queue.Queue) {
	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	wh := NewWebhooks(db, q)
	hooks := g.Group("/webhooks", RequireWebhookToken(cfg.WebhookToken))
	hooks.POST("/docket-alert", wh.DocketAlert)
	hooks.POST("/recap-fetch", wh.RecapFetch)

	auth := NewAuth(cfg)
	g.POST("/auth/login", auth.Login)

	admin := NewAdmin(db, q)
	api := g.Group("/api/v1", auth.RequireJWT())
	api.POST("/subscriptions", admin.FollowCase)
	api.GET("/channels", admin.ListChannels)
	api.PATCH("/channels/:id", admin.UpdateChannel)
	api.GET("/jobs/dead", admin.DeadJobs)
}
