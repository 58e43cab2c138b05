package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver   string
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string
	SQLitePath string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	BotToken     string
	AdminIDs     []int64
	LogChannelID int64
	LogLevel     string

	VerifyMode    string
	IMAPAddr      string
	VerifyTimeout time.Duration

	PaymentMode       string
	PaymentAPIURL     string
	PaymentShopID     string
	PaymentSecretKey  string
	PaymentWebhook    string
	AllowedPaymentIPs []string
	AutoPayInterval   time.Duration
	SimSuccessRate    float64

	MetricsAddr      string
	SyntheticIDStart int64
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "gmailfarm"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		SQLitePath: getEnv("SQLITE_PATH", "gmailfarm.db"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BotToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminIDs:     parseIDs(getEnv("ADMIN_IDS", "")),
		LogChannelID: getEnvInt64("LOG_CHANNEL_ID", 0),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		VerifyMode:    getEnv("VERIFY_MODE", "imap"),
		IMAPAddr:      getEnv("IMAP_ADDR", "imap.gmail.com:993"),
		VerifyTimeout: getEnvDuration("VERIFY_TIMEOUT", 10*time.Second),

		PaymentMode:      getEnv("PAYMENT_MODE", "simulate"),
		PaymentAPIURL:    getEnv("PAYMENT_API_URL", ""),
		PaymentShopID:    getEnv("PAYMENT_SHOP_ID", ""),
		PaymentSecretKey: getEnv("PAYMENT_SECRET_KEY", ""),
		PaymentWebhook:   getEnv("PAYMENT_WEBHOOK_ADDR", ""),
		AllowedPaymentIPs: splitList(getEnv("PAYMENT_ALLOWED_IPS",
			"127.0.0.1/32,::1/128")),
		AutoPayInterval: getEnvDuration("AUTO_PAY_INTERVAL", 60*time.Second),
		SimSuccessRate:  getEnvFloat("SIM_SUCCESS_RATE", 0.9),

		MetricsAddr:      getEnv("METRICS_ADDR", ""),
		SyntheticIDStart: getEnvInt64("SYNTHETIC_ID_START", 9000000000),
	}
}

// IsAdmin reports whether id is listed in ADMIN_IDS.
func (c *Config) IsAdmin(id int64) bool {
	for _, admin := range c.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %v", key, raw, fallback)
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		log.Printf("Invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(raw string) []int64 {
	var ids []int64
	for _, part := range splitList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("Skipping invalid admin id %q", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
