package config

import (
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	AutoMigrate bool

	// JWT issued by the auth provider (HS256 shared secret)
	JWTSecret string

	// LemonSqueezy
	WebhookSecret          string
	BasicVariantID         string
	ProVariantID           string
	PremiumVariantID       string
	SubscriptionVariantIDs []string
	PlansConfigPath        string
	SubscriptionRetryDelay time.Duration
	WebhookLeaseTTL        time.Duration

	// AI analysis provider
	AIAPIURL  string
	AIAPIKey  string
	AITimeout time.Duration

	// Redis (optional: webhook lease + shared rate limit storage)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Limits
	RateLimitPerMinute int
	MaxFileSizeMB      int

	// Server
	Port        string
	CORSOrigins string
	SentryDSN   string
	AppEnv      string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return &Config{
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "credits_db"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		AutoMigrate: getEnvBool("AUTO_MIGRATE", false),

		JWTSecret: getEnv("JWT_SECRET", ""),

		WebhookSecret:          getEnv("LEMONSQUEEZY_WEBHOOK_SECRET", ""),
		BasicVariantID:         getEnv("LEMONSQUEEZY_BASIC_VARIANT_ID", ""),
		ProVariantID:           getEnv("LEMONSQUEEZY_PRO_VARIANT_ID", ""),
		PremiumVariantID:       getEnv("LEMONSQUEEZY_PREMIUM_VARIANT_ID", ""),
		SubscriptionVariantIDs: getEnvList("LEMONSQUEEZY_SUBSCRIPTION_VARIANT_IDS"),
		PlansConfigPath:        getEnv("PLANS_CONFIG_PATH", "plans.json"),
		SubscriptionRetryDelay: parseDuration(getEnv("SUBSCRIPTION_RETRY_DELAY", "2s"), 2*time.Second),
		WebhookLeaseTTL:        parseDuration(getEnv("WEBHOOK_LEASE_TTL", "30s"), 30*time.Second),

		AIAPIURL:  getEnv("AI_API_URL", ""),
		AIAPIKey:  getEnv("AI_API_KEY", ""),
		AITimeout: parseDuration(getEnv("AI_TIMEOUT", "60s"), 60*time.Second),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
		MaxFileSizeMB:      getEnvInt("MAX_FILE_SIZE_MB", 50),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		SentryDSN:   getEnv("SENTRY_DSN", ""),
		AppEnv:      getEnv("APP_ENV", "development"),
	}
}

// Validate returns the names of required settings that are missing.
func (c *Config) Validate() []string {
	var missing []string
	if c.DBPassword == "" {
		missing = append(missing, "DB_PASSWORD")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.WebhookSecret == "" {
		missing = append(missing, "LEMONSQUEEZY_WEBHOOK_SECRET")
	}
	return missing
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// MigrateURL is the postgres:// form golang-migrate expects.
func (c *Config) MigrateURL() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword +
		"@" + net.JoinHostPort(c.DBHost, c.DBPort) +
		"/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

func (c *Config) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvList splits a comma separated value. Unset yields nil.
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// parseDuration accepts "0" to disable a wait.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
