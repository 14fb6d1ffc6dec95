// Package config provides environment configuration for the relay server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Public base URL, used when registering Telegram webhooks
	AppURL string

	// Postgres connection string; empty selects the in-memory store
	DatabaseURL string

	// Credential vault key: 64 hex chars or base64-encoded 32 bytes
	EncryptionKey string

	// Slack app-level signing secret (tenant-independent)
	SlackSigningSecret string

	// Agent runtime (worker) settings
	WorkerURL       string
	WorkerAPISecret string
	AgentTimeout    time.Duration

	// JWT settings for the dashboard API
	JWTSecret string

	// NATS settings (optional relay event stream)
	NATSURL   string
	NATSToken string

	// Rate limiting for the dashboard API
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Plan limits (monthly messages)
	FreePlanLimit int
	ProPlanLimit  int

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		AppURL:             getEnv("APP_URL", ""),

		// Storage
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// Secrets
		EncryptionKey:      getEnv("ENCRYPTION_KEY", ""),
		SlackSigningSecret: getEnv("SLACK_SIGNING_SECRET", ""),

		// Agent runtime
		WorkerURL:       getEnv("WORKER_URL", ""),
		WorkerAPISecret: getEnv("WORKER_API_SECRET", ""),
		AgentTimeout:    getDurationEnv("AGENT_TIMEOUT", 2*time.Minute),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// NATS
		NATSURL:   getEnv("NATS_URL", ""),
		NATSToken: getEnv("NATS_TOKEN", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Plan limits
		FreePlanLimit: getIntEnv("FREE_PLAN_LIMIT", 50),
		ProPlanLimit:  getIntEnv("PRO_PLAN_LIMIT", 2000),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
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

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
