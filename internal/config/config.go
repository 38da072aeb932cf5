// Package config содержит логику чтения конфигурации сервиса сделок.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса сделок.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	BackendAddress string `env:"BACKEND_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	JWTSecret      string `env:"JWT_SECRET"`
	CDNBaseURL     string `env:"CDN_BASE_URL"`

	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	BackendRetries int           `env:"BACKEND_RETRIES" envDefault:"2"`
	ConfirmTTL     time.Duration `env:"CONFIRM_TTL" envDefault:"5m"`
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envBackendAddress := cfg.BackendAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envCDNBaseURL := cfg.CDNBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.BackendAddress, "b", "", "deal backend address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for the transition journal")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for session tokens")
	flag.StringVar(&cfg.CDNBaseURL, "c", "", "base URL of the file CDN")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envBackendAddress != "" {
		cfg.BackendAddress = envBackendAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envCDNBaseURL != "" {
		cfg.CDNBaseURL = envCDNBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.BackendAddress == "" {
		return nil, errors.New("backend address is required")
	}

	return cfg, nil
}
