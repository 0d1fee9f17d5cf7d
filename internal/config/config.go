// Package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port      string
	JWTSecret string

	// EnginePath locates the adjudicator binary.
	EnginePath string

	// Persistence. RedisURL is optional; when empty the snapshot cache is
	// disabled and games persist straight to SQLite.
	DatabasePath string
	RedisURL     string

	// Vault. The master password is read from the variable named by
	// VaultPasswordEnv so it never appears in config files or flags.
	VaultPath        string
	VaultPasswordEnv string

	// Model selection for the agent runner.
	Model         string
	FallbackModel string
	MaxTokens     int64

	// Retry and webhook tuning.
	LLMMaxRetries    int
	LLMBaseDelay     time.Duration
	WebhookBaseDelay time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:             envOrDefault("PORT", "8010"),
		JWTSecret:        envOrDefault("JWT_SECRET", "dev-secret-change-me"),
		EnginePath:       os.Getenv("ENGINE_PATH"),
		DatabasePath:     envOrDefault("DATABASE_PATH", "data/concert.db"),
		RedisURL:         os.Getenv("REDIS_URL"),
		VaultPath:        envOrDefault("VAULT_PATH", "data/vault.json"),
		VaultPasswordEnv: envOrDefault("VAULT_PASSWORD_ENV", "CONCERT_VAULT_PASSWORD"),
		Model:            envOrDefault("MODEL", "claude-sonnet-4-5"),
		FallbackModel:    envOrDefault("FALLBACK_MODEL", "claude-haiku-4-5"),
		MaxTokens:        envInt64("MAX_TOKENS", 2048),
		LLMMaxRetries:    envInt("LLM_MAX_RETRIES", 3),
		LLMBaseDelay:     envDuration("LLM_BASE_DELAY", time.Second),
		WebhookBaseDelay: envDuration("WEBHOOK_BASE_DELAY", time.Second),
	}
}

// VaultPassword returns the master password from the configured variable.
func (c *Config) VaultPassword() string {
	return os.Getenv(c.VaultPasswordEnv)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
