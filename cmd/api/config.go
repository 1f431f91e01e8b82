package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	DatabaseURL   string
	GatewayToken  string
	AdminToken    string
	Port          string
	RedisURL      string
	LogLevel      string
	LogFormat     string
	OpTimeout     time.Duration
	MaxAttempts   int
	WaitingTTL    time.Duration
	SweepInterval time.Duration
	AutoMigrate   bool
}

func loadConfig() (config, error) {
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		host := envOrDefault("DB_HOST", "localhost")
		port := envOrDefault("DB_PORT", "5432")
		user := strings.TrimSpace(os.Getenv("DB_USER"))
		password := strings.TrimSpace(os.Getenv("DB_PASSWORD"))
		name := strings.TrimSpace(os.Getenv("DB_NAME"))
		sslmode := envOrDefault("DB_SSLMODE", "disable")
		if user == "" || password == "" || name == "" {
			return config{}, errors.New("DATABASE_URL or DB_USER/DB_PASSWORD/DB_NAME are required")
		}
		dbURL = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host,
			port,
			user,
			password,
			name,
			sslmode,
		)
	}

	gatewayToken := strings.TrimSpace(os.Getenv("GATEWAY_TOKEN"))
	if gatewayToken == "" {
		return config{}, errors.New("GATEWAY_TOKEN is required")
	}
	adminToken := strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))
	if adminToken == "" {
		return config{}, errors.New("ADMIN_TOKEN is required")
	}
	if adminToken == gatewayToken {
		return config{}, errors.New("ADMIN_TOKEN must differ from GATEWAY_TOKEN")
	}

	opTimeout, err := durationEnvOrDefault("OP_TIMEOUT", 5*time.Second)
	if err != nil {
		return config{}, err
	}
	if opTimeout <= 0 {
		return config{}, errors.New("OP_TIMEOUT must be positive")
	}
	maxAttempts, err := intEnvOrDefault("MAX_ATTEMPTS", 3)
	if err != nil {
		return config{}, err
	}
	if maxAttempts < 1 {
		return config{}, errors.New("MAX_ATTEMPTS must be at least 1")
	}
	waitingTTL, err := durationEnvOrDefault("WAITING_TTL", 24*time.Hour)
	if err != nil {
		return config{}, err
	}
	sweepInterval, err := durationEnvOrDefault("SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return config{}, err
	}
	if waitingTTL > 0 && sweepInterval <= 0 {
		return config{}, errors.New("SWEEP_INTERVAL must be positive")
	}
	autoMigrate, err := boolEnvOrDefault("AUTO_MIGRATE", true)
	if err != nil {
		return config{}, err
	}

	return config{
		DatabaseURL:   dbURL,
		GatewayToken:  gatewayToken,
		AdminToken:    adminToken,
		Port:          envOrDefault("PORT", "8080"),
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		LogFormat:     envOrDefault("LOG_FORMAT", "json"),
		OpTimeout:     opTimeout,
		MaxAttempts:   maxAttempts,
		WaitingTTL:    waitingTTL,
		SweepInterval: sweepInterval,
		AutoMigrate:   autoMigrate,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnvOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnvOrDefault(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func boolEnvOrDefault(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
