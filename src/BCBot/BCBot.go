package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/casewatch/bigcases-bot/src/BCBot/config"
	"github.com/casewatch/bigcases-bot/src/BCBot/pipeline"
	"github.com/casewatch/bigcases-bot/src/shared/courtlistener"
	"github.com/casewatch/bigcases-bot/src/shared/data"
	"github.com/casewatch/bigcases-bot/src/shared/images"
	"github.com/casewatch/bigcases-bot/src/shared/queue"
)

func main() {
	// Connect to database first
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "bigcases:bigcases@tcp(127.0.0.1:3306)/bigcases"
	}
	db := data.MustMySQL(mysqlDSN)

	cfg := config.Load(db)
	if cfg.CourtListenerKey == "" {
		log.Fatal("COURTLISTENER_KEY not set in database or environment")
	}

	rdb := data.MustRedis(cfg.RedisURL)
	q := queue.New(rdb, cfg.QueueName)

	backend := courtlistener.NewClient(cfg.CourtListenerURL, cfg.CourtListenerKey)
	thumbs := images.NewClient(cfg.ThumbnailerURL)

	p := pipeline.New(db, q, backend, thumbs, nil, cfg.PostRetryPolicy)
	p.RegisterHandlers(q)

	ctx, cancel := context.WithCancel(context.Background())

	// Reconciliation sweep for purchases whose completion callback never
	// arrived, plus a periodic settings refresh.
	c := cron.New()
	if _, err := c.AddFunc(cfg.SweepSchedule, func() {
		p.SweepWaitingEvents(ctx, cfg.SweepMaxAge)
	}); err != nil {
		log.Fatalf("sweep schedule: %v", err)
	}
	if _, err := c.AddFunc("@every 5m", func() {
		if err := data.RefreshSettings(db); err != nil {
			log.Printf("refresh settings: %v", err)
		}
	}); err != nil {
		log.Fatalf("settings schedule: %v", err)
	}
	c.Start()

	go q.Run(ctx, cfg.Workers)

	log.Printf("BigCases bot running with %d workers. Press CTRL-C to exit.", cfg.Workers)

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	cancel()
	<-c.Stop().Done()
	log.Println("BigCases bot stopped gracefully")
}
