package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks values the decoder cannot: durations, zones, drivers and
// required secrets. It reports every problem, not just the first.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: expected text or json, got %q", cfg.Logging.Format))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.tenant_timeout", cfg.Scheduler.TenantTimeout)
	if cfg.Scheduler.Workers < 0 {
		errs = append(errs, errors.New("scheduler.workers must be >= 0"))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory", "none", "file":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.dsn (or %s) is required when storage.driver=postgres", EnvDatabaseDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if strings.TrimSpace(cfg.HTTP.JWTSecret) == "" {
		errs = append(errs, fmt.Errorf("http.jwt_secret (or %s) is required", EnvJWTSecret))
	}
	dur("http.token_ttl", cfg.HTTP.TokenTTL)
	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.idle_timeout", cfg.HTTP.IdleTimeout)
	dur("http.ws.ping_interval", cfg.HTTP.WS.PingInterval)
	dur("http.ws.pong_wait", cfg.HTTP.WS.PongWait)

	if r := cfg.Relay; r != nil {
		if r.Workers < 0 || r.QueueSize < 0 || r.RatePerSec < 0 || r.RetryMax < 0 {
			errs = append(errs, errors.New("relay: workers, queue_size, rate_per_sec and retry_max must be >= 0"))
		}
		if r.Redis.Enabled && strings.TrimSpace(r.Redis.Addr) == "" {
			errs = append(errs, errors.New("relay.redis.addr is required when enabled"))
		}
		if r.MQTT.Enabled && strings.TrimSpace(r.MQTT.Broker) == "" {
			errs = append(errs, errors.New("relay.mqtt.broker is required when enabled"))
		}
		if r.MQTT.QoS > 2 {
			errs = append(errs, errors.New("relay.mqtt.qos must be 0, 1 or 2"))
		}
		if r.Telegram.Enabled && strings.TrimSpace(r.Telegram.Token) == "" {
			errs = append(errs, fmt.Errorf("relay.telegram.token (or %s) is required when enabled", EnvTelegramToken))
		}
	}
	return errors.Join(errs...)
}

// ParseDurationField parses a Go duration; empty is 0 and negatives are errors.
// path names the key in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q must not be negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
