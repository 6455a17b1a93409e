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
	DBSource      string
	Port          string
	Env           string
	UsersFile     string
	ArtifactRoot  string
	RedisAddr     string
	RedisPassword string
	NotifyChannel string
	JWTSecret     string
	Location      *time.Location
	AutoMigrate   bool
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads the environment, after an optional .env file in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:      dbSource,
		Port:          getEnv("SERVER_PORT", "8080"),
		Env:           getEnv("ENVIRONMENT", "development"),
		UsersFile:     getEnv("USERS_DIRECTORY", "users.json"),
		ArtifactRoot:  getEnv("ARTIFACT_ROOT", "uploads/cashflow"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		NotifyChannel: getEnv("NOTIFY_CHANNEL", "cashflow_events"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
	}

	if cfg.JWTSecret == "" {
		if cfg.Env != "development" {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s", cfg.Env)
		}
		cfg.JWTSecret = "dev-secret"
	}

	tz := getEnv("TIMEZONE", "Europe/Warsaw")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}
	cfg.Location = loc

	migrate, err := strconv.ParseBool(getEnv("DB_AUTO_MIGRATE", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_AUTO_MIGRATE: %w", err)
	}
	cfg.AutoMigrate = migrate

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
