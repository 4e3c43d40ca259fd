package config

import (
	"reflect"
	"sort"
	"strings"

	logx "schoolbell/pkg/logx"
)

// RestartSections are the sections whose changes only apply after a restart.
var RestartSections = map[string]bool{"storage": true, "http": true}

// SummarizeConfigChange returns the changed section names and safe fields for
// logging. Secrets are reported only as "<name>_set".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.tenant_timeout", strings.TrimSpace(newCfg.Scheduler.TenantTimeout)),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Int("http.cors_origins", len(newCfg.HTTP.CORSOrigins)),
			logx.Bool("http.jwt_secret_changed", oldCfg.HTTP.JWTSecret != newCfg.HTTP.JWTSecret),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof.Enabled),
		)
	}

	oldR, newR := derefRelay(oldCfg.Relay), derefRelay(newCfg.Relay)
	if !reflect.DeepEqual(oldR, newR) {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.Bool("relay.enabled", newR.Enabled),
			logx.Int("relay.rate_per_sec", newR.RatePerSec),
			logx.Int("relay.retry_max", newR.RetryMax),
			logx.Bool("relay.redis", newR.Redis.Enabled),
			logx.Bool("relay.mqtt", newR.MQTT.Enabled),
			logx.Bool("relay.telegram", newR.Telegram.Enabled),
			logx.Int("relay.telegram_chats", len(newR.Telegram.Chats)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefRelay(r *RelayConfig) RelayConfig {
	if r == nil {
		return RelayConfig{}
	}
	return *r
}
