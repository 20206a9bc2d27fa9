package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "sapling-graph/backend/pkg/errors"
)

// Store backends selectable through STORE_BACKEND
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNeo4j    = "neo4j"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Record store
	StoreBackend        string
	StoreTimeoutSeconds int
	SQLitePath          string
	PostgresDSN         string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Course-context cache (empty address disables it)
	RedisAddr               string
	CourseContextTTLSeconds int

	// AI completion service
	LLMBaseURL string
	LLMAPIKey  string
	ModelID    string

	// Tracing
	OtelEnabled     bool
	OtelEndpoint    string
	OtelSampleRatio float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// A missing .env file is fine
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		StoreBackend:            strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		StoreTimeoutSeconds:     getEnvInt("STORE_TIMEOUT_SECONDS", 10),
		SQLitePath:              getEnv("SQLITE_PATH", "sapling.db"),
		PostgresDSN:             getEnv("POSTGRES_DSN", ""),
		Neo4jURI:                getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:               getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:           getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:           getEnv("NEO4J_DATABASE", ""),
		RedisAddr:               getEnv("REDIS_ADDR", ""),
		CourseContextTTLSeconds: getEnvInt("COURSE_CONTEXT_TTL", 300),
		LLMBaseURL:              getEnv("LLM_BASE_URL", ""),
		LLMAPIKey:               getEnv("LLM_API_KEY", ""),
		ModelID:                 getEnv("MODEL_ID", "gpt-4o-mini"),
		OtelEnabled:             getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:            getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OtelSampleRatio:         getEnvFloat("OTEL_SAMPLER_RATIO", 0.1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return apperrors.NewConfigMissingRequired("SQLITE_PATH")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return apperrors.NewConfigMissingRequired("POSTGRES_DSN")
		}
	case BackendNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	default:
		return apperrors.NewConfigValidationFailed("STORE_BACKEND", fmt.Sprintf("unknown backend %q", c.StoreBackend))
	}
	if c.StoreTimeoutSeconds <= 0 {
		return apperrors.NewConfigValidationFailed("STORE_TIMEOUT_SECONDS", "must be positive")
	}
	if c.CourseContextTTLSeconds <= 0 {
		return apperrors.NewConfigValidationFailed("COURSE_CONTEXT_TTL", "must be positive")
	}
	// The AI collaborator is optional; without it only direct payloads are applied
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// StoreTimeout bounds the store round-trips of one request
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

// CourseContextTTL is how long a cached course context stays valid
func (c *Config) CourseContextTTL() time.Duration {
	return time.Duration(c.CourseContextTTLSeconds) * time.Second
}

// LLMEnabled reports whether an AI completion endpoint is configured
func (c *Config) LLMEnabled() bool {
	return c.LLMBaseURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
