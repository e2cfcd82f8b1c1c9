package config

import (
	"log"
	"os"

	"github.com/casewatch/bigcases-bot/src/shared/data"
	"gorm.io/gorm"
)

type Config struct {
	Port         string
	MySQLDSN     string
	RedisURL     string
	QueueName    string
	WebhookToken string
	AdminToken   string
	JWTSecret    string
	AllowOrigins []string
}

func Load(db *gorm.DB) Config {
	// Load settings from database
	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	// Get values from database with env fallbacks
	webhookToken := data.GetSetting("webhook_token")
	if webhookToken == "" {
		webhookToken = os.Getenv("WEBHOOK_TOKEN")
	}

	adminToken := data.GetSetting("admin_token")
	if adminToken == "" {
		adminToken = os.Getenv("ADMIN_TOKEN")
	}

	jwtSecret := data.GetSetting("jwt_secret")
	if jwtSecret == "" {
		jwtSecret = os.Getenv("JWT_SECRET")
	}

	return Config{
		Port:         getenv("PORT", "8080"),
		MySQLDSN:     getenv("MYSQL_DSN", "bigcases:bigcases@tcp(127.0.0.1:3306)/bigcases"),
		RedisURL:     getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueName:    getenv("QUEUE_NAME", "bigcases"),
		WebhookToken: webhookToken,
		AdminToken:   adminToken,
		JWTSecret:    jwtSecret,
		AllowOrigins: []string{getenv("CORS_ORIGIN", "http://localhost:3000")},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
