package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port             string
	Env              string
	LogLevel         string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	HTTPWriteTimeout time.Duration

	// Evolution gateway
	EvolutionAPIURL       string
	EvolutionAPIKey       string
	EvolutionInstanceName string
	EvolutionWebhookURL   string
	EvolutionMaxRetries   int

	// WhatsApp connection lifecycle and dispatch
	WhatsAppStateTimeout   time.Duration
	WhatsAppConnectTimeout time.Duration
	WhatsAppProfileTimeout time.Duration
	WhatsAppSendTimeout    time.Duration
	WhatsAppPollInterval   time.Duration
	WhatsAppPollAttempts   int
	WhatsAppMessageDelay   time.Duration
	WhatsAppCountryCode    string
	WhatsAppMobilePrefix   string
	WhatsAppAutoConnect    bool

	// Promotion sends
	PromotionLockTTL time.Duration

	// Public webhook rate limiting
	WebhookRateLimit float64
	WebhookRateBurst int

	// Operator API access
	OperatorJWTSecret  string
	OperatorJWTIssuer  string
	CORSAllowedOrigins string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "3000"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		HTTPWriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Minute),

		EvolutionAPIURL:       strings.TrimRight(getEnv("EVOLUTION_API_URL", ""), "/"),
		EvolutionAPIKey:       getEnv("EVOLUTION_API_KEY", ""),
		EvolutionInstanceName: getEnv("EVOLUTION_INSTANCE_NAME", "sistema-puntos-2025"),
		EvolutionWebhookURL:   getEnv("EVOLUTION_WEBHOOK_URL", ""),
		EvolutionMaxRetries:   getEnvAsInt("EVOLUTION_MAX_RETRIES", 1),

		WhatsAppStateTimeout:   getEnvAsDuration("WHATSAPP_STATE_TIMEOUT", 10*time.Second),
		WhatsAppConnectTimeout: getEnvAsDuration("WHATSAPP_CONNECT_TIMEOUT", 15*time.Second),
		WhatsAppProfileTimeout: getEnvAsDuration("WHATSAPP_PROFILE_TIMEOUT", 8*time.Second),
		WhatsAppSendTimeout:    getEnvAsDuration("WHATSAPP_SEND_TIMEOUT", 10*time.Second),
		WhatsAppPollInterval:   getEnvAsDuration("WHATSAPP_POLL_INTERVAL", 3*time.Second),
		WhatsAppPollAttempts:   getEnvAsInt("WHATSAPP_POLL_ATTEMPTS", 40),
		WhatsAppMessageDelay:   getEnvAsDuration("WHATSAPP_MESSAGE_DELAY", 2*time.Second),
		WhatsAppCountryCode:    getEnv("WHATSAPP_COUNTRY_CODE", "54"),
		WhatsAppMobilePrefix:   getEnv("WHATSAPP_MOBILE_PREFIX", "9"),
		WhatsAppAutoConnect:    getEnvAsBool("WHATSAPP_AUTO_CONNECT", false),

		PromotionLockTTL: getEnvAsDuration("PROMOTION_LOCK_TTL", 30*time.Minute),

		WebhookRateLimit: getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookRateBurst: getEnvAsInt("WEBHOOK_RATE_BURST", 40),

		OperatorJWTSecret:  getEnv("OPERATOR_JWT_SECRET", ""),
		OperatorJWTIssuer:  getEnv("OPERATOR_JWT_ISSUER", ""),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
