// Package config loads runtime settings from the environment (optionally seeded
// from a .env file) and holds the tuning constants of the conversation layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config groups every runtime setting of the server and the CLIs.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Auth   AuthConfig
	Log    LogConfig
	Client ClientConfig
}

type ServerConfig struct {
	Addr             string
	AllowAnyOrigin   bool
	MetricsNamespace string
	RoomCacheTTL     time.Duration
}

type StoreConfig struct {
	DatabaseDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type AuthConfig struct {
	JWTSecret      string
	Issuer         string
	AccessTokenTTL time.Duration
}

type LogConfig struct {
	FilePath    string
	Environment string
}

// ClientConfig is used by the consult CLI and other API consumers.
type ClientConfig struct {
	APIBaseURL string
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c LogConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		Server: ServerConfig{
			Addr:             getEnv("HTTP_ADDR", ":8080"),
			MetricsNamespace: getEnv("METRICS_NAMESPACE", "healthcb"),
		},
		Store: StoreConfig{
			DatabaseDSN:   getEnv("DATABASE_DSN", "host=localhost user=user password=password dbname=healthcb port=5432 sslmode=disable"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(os.Getenv("JWT_SECRET")),
			Issuer:    getEnv("JWT_ISSUER", "healthcb-conversations"),
		},
		Log: LogConfig{
			FilePath:    getEnv("LOG_FILE_PATH", ""),
			Environment: getEnv("APP_ENV", "development"),
		},
		Client: ClientConfig{
			APIBaseURL: strings.TrimRight(getEnv("HEALTHCB_API_URL", "http://localhost:8080"), "/"),
		},
	}

	var err error
	if cfg.Server.AllowAnyOrigin, err = boolFromEnv("ALLOW_ANY_ORIGIN", false); err != nil {
		return nil, err
	}
	if cfg.Server.RoomCacheTTL, err = durationFromEnv("ROOM_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Auth.AccessTokenTTL, err = durationFromEnv("ACCESS_TOKEN_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Store.RedisDB, err = intFromEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}

	if cfg.Auth.AccessTokenTTL < time.Minute {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTL must be at least 1m")
	}
	return cfg, nil
}

// Validate checks the settings only the server needs.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Store.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN must be set")
	}
	return nil
}

func loadDotEnv() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, raw, err)
	}
	return v, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, raw, err)
	}
	return v, nil
}
