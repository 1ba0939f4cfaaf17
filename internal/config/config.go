package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	Port                       string
	DatabaseURL                string
	Version                    string
	LogLevel                   string
	OpenAIKey                  string
	OpenAITimeout              int    // OpenAI API timeout in seconds
	WebhookSigningSecret       string // Shared secret for inbound webhook signatures
	WebhookToleranceSeconds    int    // Max age of a signed webhook timestamp
	ProviderAPIKey             string // Upstream mail provider API key (full-content fetch)
	ProviderBaseURL            string // Upstream mail provider API base URL
	SendGridAPIKey             string // SendGrid API key for outbound replies
	OutboundFromEmail          string // From address for outbound replies
	KnowledgeAutoApplyMinScore int    // Confidence at which extracted facts skip review
	EnableClassification       bool   // Whether to run AI classification/enrichment after persistence
	SSEHeartbeatSeconds        int    // Interval between stream keepalive pings
	SSEClientBuffer            int    // Per-client event buffer before drops
}

// Load initializes and returns application configuration
func Load() *Config {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:                       getEnv("PORT", "8080"),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		Version:                    getEnv("VERSION", "1.0.0"),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		OpenAIKey:                  os.Getenv("OPENAI_API_KEY"),
		OpenAITimeout:              getEnvInt("OPENAI_TIMEOUT", 60),
		WebhookSigningSecret:       os.Getenv("WEBHOOK_SIGNING_SECRET"),
		WebhookToleranceSeconds:    getEnvInt("WEBHOOK_TOLERANCE_SECONDS", 300),
		ProviderAPIKey:             os.Getenv("PROVIDER_API_KEY"),
		ProviderBaseURL:            getEnv("PROVIDER_BASE_URL", "https://api.resend.com"),
		SendGridAPIKey:             os.Getenv("SENDGRID_API_KEY"),
		OutboundFromEmail:          getEnv("OUTBOUND_FROM_EMAIL", "inbox@mailroom.local"),
		KnowledgeAutoApplyMinScore: getEnvInt("KNOWLEDGE_AUTO_APPLY_THRESHOLD", 80),
		EnableClassification:       getEnvBool("ENABLE_CLASSIFICATION", true),
		SSEHeartbeatSeconds:        getEnvInt("SSE_HEARTBEAT_SECONDS", 30),
		SSEClientBuffer:            getEnvInt("SSE_CLIENT_BUFFER", 16),
	}

	return config
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as integer with a default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as boolean with a default fallback
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// SetupLogger configures zerolog with JSON output and single-line format
func (c *Config) SetupLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "mailroom").
		Str("version", c.Version).
		Logger()

	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	return logger
}
