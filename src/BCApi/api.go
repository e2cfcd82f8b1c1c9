package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casewatch/bigcases-bot/src/BCApi/config"
	"github.com/casewatch/bigcases-bot/src/BCApi/webserver"
	"github.com/casewatch/bigcases-bot/src/shared/data"
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
	if cfg.WebhookToken == "" {
		log.Fatal("WEBHOOK_TOKEN not set in database or environment")
	}

	rdb := data.MustRedis(cfg.RedisURL)
	q := queue.New(rdb, cfg.QueueName)

	router := webserver.New(cfg, db, q)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	log.Printf("BigCases API listening on %s", cfg.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)
	log.Println("BigCases API stopped gracefully")
}
