package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Pricing configuration
	Pricing PricingConfig

	// Payout configuration
	Payout PayoutConfig

	// Kafka notification configuration
	Kafka KafkaConfig

	// Scheduled jobs configuration
	Jobs JobsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error

	// ReceiptVerifyURL is encoded, with the booking number, in receipt QR codes
	ReceiptVerifyURL string
}

// IsProduction returns true when running in production
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	Issuer            string
	AccessTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// PaymentConfig holds payment gateway configuration
type PaymentConfig struct {
	BaseURL          string        // gateway API base URL
	SecretKey        string        // API secret key (SECRET - never expose to client)
	WebhookSecret    string        // HMAC secret for webhook signatures
	WebhookTolerance time.Duration // accepted clock skew for signed webhooks
	Timeout          time.Duration // per-call deadline
	UseDevGateway    bool          // fake gateway, only honoured in non-production builds
	Currency         string
}

// PricingConfig holds the platform fee and commission table
type PricingConfig struct {
	PlatformFeeBps          int64
	BasicCommissionBps      int64
	PremiumCommissionBps    int64
	EnterpriseCommissionBps int64
}

// PayoutConfig holds payout batch configuration
type PayoutConfig struct {
	MinimumAmount     int64
	EarlyPayoutFeeBps int64
	StalledAfter      time.Duration
}

// KafkaConfig holds the notification producer configuration
type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	TopicPrefix string
	ClientID    string
	// QueueSize bounds events waiting for the broker
	QueueSize int
}

// JobsConfig holds cron schedules for the settlement jobs
type JobsConfig struct {
	Enabled              bool
	EscrowReleaseSpec    string
	CompleteBookingsSpec string
	PayoutBatchSpec      string
	ResumeStalledSpec    string
	ReplayEventsSpec     string
	ReplayMaxAttempts    int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),

			ReceiptVerifyURL: getEnv("RECEIPT_VERIFY_URL", ""),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			Issuer:            getEnv("JWT_ISSUER", "tripmarket"),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "Idempotency-Key"}),
		},
		Payment: PaymentConfig{
			BaseURL:          getEnv("PAYMENT_GATEWAY_URL", "https://api.paygate.example/v1"),
			SecretKey:        getEnv("PAYMENT_SECRET_KEY", ""),
			WebhookSecret:    getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			WebhookTolerance: getEnvAsDuration("PAYMENT_WEBHOOK_TOLERANCE", 5*time.Minute),
			Timeout:          getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 15*time.Second),
			UseDevGateway:    getEnvAsBool("PAYMENT_USE_DEV_GATEWAY", false),
			Currency:         strings.ToUpper(getEnv("PAYMENT_DEFAULT_CURRENCY", "USD")),
		},
		Pricing: PricingConfig{
			PlatformFeeBps:          getEnvAsInt64("PLATFORM_FEE_BPS", 1000),
			BasicCommissionBps:      getEnvAsInt64("COMMISSION_BASIC_BPS", 1500),
			PremiumCommissionBps:    getEnvAsInt64("COMMISSION_PREMIUM_BPS", 1000),
			EnterpriseCommissionBps: getEnvAsInt64("COMMISSION_ENTERPRISE_BPS", 700),
		},
		Payout: PayoutConfig{
			MinimumAmount:     getEnvAsInt64("PAYOUT_MINIMUM_AMOUNT", 5000),
			EarlyPayoutFeeBps: getEnvAsInt64("EARLY_PAYOUT_FEE_BPS", 200),
			StalledAfter:      getEnvAsDuration("PAYOUT_STALLED_AFTER", 30*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:     getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:     getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
			ClientID:    getEnv("KAFKA_CLIENT_ID", "marketplace-backend"),
			QueueSize:   getEnvAsInt("KAFKA_QUEUE_SIZE", 1024),
		},
		Jobs: JobsConfig{
			Enabled:              getEnvAsBool("JOBS_ENABLED", true),
			EscrowReleaseSpec:    getEnv("JOB_ESCROW_RELEASE_SPEC", "0 0 1 * * *"),
			CompleteBookingsSpec: getEnv("JOB_COMPLETE_BOOKINGS_SPEC", "0 30 0 * * *"),
			PayoutBatchSpec:      getEnv("JOB_PAYOUT_BATCH_SPEC", "0 0 3 * * *"),
			ResumeStalledSpec:    getEnv("JOB_RESUME_STALLED_SPEC", "0 */15 * * * *"),
			ReplayEventsSpec:     getEnv("JOB_REPLAY_EVENTS_SPEC", "0 */5 * * * *"),
			ReplayMaxAttempts:    getEnvAsInt("JOB_REPLAY_MAX_ATTEMPTS", 8),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Server.IsProduction() {
		if c.Payment.WebhookSecret == "" {
			return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required in production")
		}
		if c.Payment.SecretKey == "" {
			return fmt.Errorf("PAYMENT_SECRET_KEY is required in production")
		}
	}

	if c.Pricing.PlatformFeeBps < 0 || c.Pricing.PlatformFeeBps > 10000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be between 0 and 10000")
	}
	for name, bps := range map[string]int64{
		"COMMISSION_BASIC_BPS":      c.Pricing.BasicCommissionBps,
		"COMMISSION_PREMIUM_BPS":    c.Pricing.PremiumCommissionBps,
		"COMMISSION_ENTERPRISE_BPS": c.Pricing.EnterpriseCommissionBps,
	} {
		if bps < 0 || bps > 10000 {
			return fmt.Errorf("%s must be between 0 and 10000", name)
		}
	}

	if c.Payout.MinimumAmount <= 0 {
		return fmt.Errorf("PAYOUT_MINIMUM_AMOUNT must be positive")
	}
	if c.Payout.EarlyPayoutFeeBps < 0 || c.Payout.EarlyPayoutFeeBps > 10000 {
		return fmt.Errorf("EARLY_PAYOUT_FEE_BPS must be between 0 and 10000")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
