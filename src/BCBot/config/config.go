package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/casewatch/bigcases-bot/src/shared/data"
	"github.com/casewatch/bigcases-bot/src/shared/queue"
	"gorm.io/gorm"
)

type Config struct {
	MySQLDSN          string
	RedisURL          string
	QueueName         string
	Workers           int
	CourtListenerURL  string
	CourtListenerKey  string
	ThumbnailerURL    string
	PostRetryPolicy   queue.RetryPolicy
	SweepSchedule     string
	SweepMaxAge       time.Duration
}

func Load(db *gorm.DB) Config {
	// Load settings from database
	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	clURL := data.GetSetting("courtlistener_url")
	if clURL == "" {
		clURL = getenv("COURTLISTENER_URL", "https://www.courtlistener.com")
	}

	clKey := data.GetSetting("courtlistener_key")
	if clKey == "" {
		clKey = os.Getenv("COURTLISTENER_KEY")
	}

	thumbURL := data.GetSetting("thumbnailer_url")
	if thumbURL == "" {
		thumbURL = getenv("THUMBNAILER_URL", "http://localhost:5050")
	}

	return Config{
		MySQLDSN:         getenv("MYSQL_DSN", "bigcases:bigcases@tcp(127.0.0.1:3306)/bigcases"),
		RedisURL:         getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueName:        getenv("QUEUE_NAME", "bigcases"),
		Workers:          getenvInt("QUEUE_WORKERS", 4),
		CourtListenerURL: clURL,
		CourtListenerKey: clKey,
		ThumbnailerURL:   thumbURL,
		PostRetryPolicy:  postRetryPolicy(),
		SweepSchedule:    getenv("SWEEP_SCHEDULE", "*/30 * * * *"),
		SweepMaxAge:      getenvDuration("SWEEP_MAX_AGE", 6*time.Hour),
	}
}

// postRetryPolicy reads the posting retry budget from settings, falling
// back to the queue default. Intervals are comma-separated seconds.
func postRetryPolicy() queue.RetryPolicy {
	policy := queue.DefaultPolicy

	if v := data.GetSetting("post_retry_max"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			policy.MaxAttempts = n
		}
	}
	if v := data.GetSetting("post_retry_intervals"); v != "" {
		var backoff []time.Duration
		for _, part := range strings.Split(v, ",") {
			secs, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				backoff = nil
				break
			}
			backoff = append(backoff, time.Duration(secs)*time.Second)
		}
		if len(backoff) > 0 {
			policy.Backoff = backoff
		}
	}
	return policy
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
