package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CardWebhookSecret        string
	IdentityVerifySecret     string
	PolicyConfigPath         string
	SchedulerEnabled         bool
	SchedulerIntervalSeconds int

	Email     EmailConfig
	RateLimit RateLimitConfig
}

// RateLimitConfig throttles unauthenticated write endpoints per client.
type RateLimitConfig struct {
	Enabled     bool
	PublicRate  float64
	PublicBurst int
}

type EmailConfig struct {
	Provider     string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SendPerSec   float64
}

const (
	EmailProviderLog  = "log"
	EmailProviderSMTP = "smtp"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:                  getenv("APP_SERVICE", "coursemart"),
		AppVersion:               getenv("APP_VERSION", "0.1.0"),
		Environment:              getenv("ENVIRONMENT", "development"),
		HTTPAddr:                 getenv("HTTP_ADDR", ":8080"),
		NodeID:                   getenvInt64("NODE_ID", 1),
		OTLPEndpoint:             getenv("OTLP_ENDPOINT", ""),
		DBType:                   getenv("DATABASE_TYPE", "sqlite"),
		DBHost:                   getenv("DATABASE_HOST", "localhost"),
		DBPort:                   getenv("DATABASE_PORT", "5432"),
		DBName:                   getenv("DATABASE_NAME", "coursemart"),
		DBUser:                   getenv("DATABASE_USER", "postgres"),
		DBPassword:               getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:                getenv("DATABASE_SSLMODE", "disable"),
		DBPath:                   getenv("DATABASE_PATH", "coursemart.db"),
		DBMaxIdleConn:            int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:            int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime:        int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		RedisAddr:                strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:            getenv("REDIS_PASSWORD", ""),
		RedisDB:                  int(getenvInt64("REDIS_DB", 0)),
		CardWebhookSecret:        strings.TrimSpace(getenv("CARD_WEBHOOK_SECRET", "card_dev_secret")),
		IdentityVerifySecret:     strings.TrimSpace(getenv("IDENTITY_VERIFY_SECRET", "identity_dev_secret")),
		PolicyConfigPath:         strings.TrimSpace(getenv("POLICY_CONFIG_PATH", "")),
		SchedulerEnabled:         getenvBool("SCHEDULER_ENABLED", true),
		SchedulerIntervalSeconds: int(getenvInt64("SCHEDULER_INTERVAL_SECONDS", 5)),
		Email: EmailConfig{
			Provider:     normalizeEmailProvider(getenv("EMAIL_PROVIDER", EmailProviderLog)),
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     int(getenvInt64("SMTP_PORT", 1025)),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@coursemart.local"),
			SendPerSec:   getenvFloat("EMAIL_SEND_PER_SEC", 5),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", true),
			PublicRate:  getenvFloat("RATE_LIMIT_PUBLIC_RATE", 1),
			PublicBurst: int(getenvInt64("RATE_LIMIT_PUBLIC_BURST", 10)),
		},
	}

	if cfg.Environment == "production" && cfg.CardWebhookSecret == "card_dev_secret" {
		log.Println("CARD_WEBHOOK_SECRET is using the development default")
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func normalizeEmailProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case EmailProviderSMTP:
		return EmailProviderSMTP
	default:
		return EmailProviderLog
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
