package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// HTTP
	Port string `yaml:"port"`

	// Backends. Empty DatabaseURL selects the in-memory store; empty
	// RedisURL selects the in-process broker.
	DatabaseURL   string `yaml:"database_url"`
	RedisURL      string `yaml:"redis_url"`
	MigrationsDir string `yaml:"migrations_dir"`

	// Upstream tracking server (device sync)
	TraccarURL      string `yaml:"traccar_url"`
	TraccarUser     string `yaml:"traccar_user"`
	TraccarPassword string `yaml:"traccar_password"`

	// Telemetry webhook rate limiting
	RateRPS   int `yaml:"rate_rps"`
	RateBurst int `yaml:"rate_burst"`

	// Outbound webhook worker
	WebhookWorkers     int `yaml:"webhook_workers"`
	WebhookMaxAttempts int `yaml:"webhook_max_attempts"`
}

// Load reads a .env file if present, then the environment, then an
// optional YAML overlay named by CONFIG_FILE. YAML values win over env
// so a mounted file can pin a deployment's settings.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		MigrationsDir:      getEnv("MIGRATIONS_DIR", "db/migrations"),
		TraccarURL:         getEnv("TRACCAR_URL", ""),
		TraccarUser:        getEnv("TRACCAR_USER", ""),
		TraccarPassword:    getEnv("TRACCAR_PASSWORD", ""),
		RateRPS:            getEnvInt("RATE_RPS", 50),
		RateBurst:          getEnvInt("RATE_BURST", 100),
		WebhookWorkers:     getEnvInt("WEBHOOK_WORKERS", 1),
		WebhookMaxAttempts: getEnvInt("WEBHOOK_MAX_ATTEMPTS", 5),
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
