package config

import (
	"os"
	"strings"
)

// Environment variables that override secrets from the file.
const (
	EnvJWTSecret     = "SCHOOLBELL_JWT_SECRET"
	EnvDatabaseDSN   = "SCHOOLBELL_DATABASE_DSN"
	EnvTelegramToken = "SCHOOLBELL_TELEGRAM_TOKEN"
)

// ApplyEnv copies non-empty secret overrides from the environment into cfg.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvJWTSecret)); v != "" {
		cfg.HTTP.JWTSecret = v
	}
	if v := strings.TrimSpace(getenv(EnvDatabaseDSN)); v != "" {
		cfg.Storage.DSN = v
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		if cfg.Relay == nil {
			cfg.Relay = &RelayConfig{}
		}
		cfg.Relay.Telegram.Token = v
	}
}
