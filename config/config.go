package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	JWT      JWTConfig
	API      APIConfig
	CORS     CORSConfig
	Realtime RealtimeConfig
	Outbox   OutboxConfig
	Market   MarketConfig
	Media    MediaConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Store selects the event log backend: "postgres" or "memory".
	Store string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type NATSConfig struct {
	URL   string
	Token string
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type APIConfig struct {
	RateLimitMessagesPerSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RealtimeConfig selects the fan-out broker: "local", "redis" or "nats".
type RealtimeConfig struct {
	Broker string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type MarketConfig struct {
	OfferExpiry     time.Duration
	ListingCacheTTL time.Duration
}

// MediaConfig configures photo uploads. Uploads are disabled without a bucket.
type MediaConfig struct {
	GCSBucket       string
	CredentialsFile string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "bazaar"),
			Password: getEnv("DB_PASSWORD", "bazaar_password"),
			DBName:   getEnv("DB_NAME", "bazaar_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Store:    getEnv("STORE", "postgres"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:   getEnv("NATS_URL", "nats://localhost:4222"),
			Token: getEnv("NATS_TOKEN", ""),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-this-secret-key"),
			ExpiryHours: getIntEnv("JWT_EXPIRY_HOURS", 168),
		},
		API: APIConfig{
			RateLimitMessagesPerSec: getIntEnv("RATE_LIMIT_MESSAGES_PER_SECOND", 10),
		},
		CORS: CORSConfig{
			AllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		},
		Realtime: RealtimeConfig{
			Broker: getEnv("REALTIME_BROKER", "redis"),
		},
		Outbox: OutboxConfig{
			PollInterval: getDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
			BatchSize:    getIntEnv("OUTBOX_BATCH_SIZE", 100),
		},
		Market: MarketConfig{
			OfferExpiry:     time.Duration(getIntEnv("OFFER_EXPIRY_HOURS", 7*24)) * time.Hour,
			ListingCacheTTL: getDurationEnv("LISTING_CACHE_TTL", 10*time.Minute),
		},
		Media: MediaConfig{
			GCSBucket:       getEnv("GCS_BUCKET", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects combinations the server cannot start with
func (c *Config) Validate() error {
	if c.JWT.Secret == "change-this-secret-key" && c.Server.Env == "production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}

	switch c.Realtime.Broker {
	case "local", "redis", "nats":
	default:
		return fmt.Errorf("unknown REALTIME_BROKER %q", c.Realtime.Broker)
	}

	switch c.Database.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORE %q", c.Database.Store)
	}

	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}

	return nil
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
