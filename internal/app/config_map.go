package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"schoolbell/internal/config"
	"schoolbell/internal/httpapi"
	"schoolbell/internal/relay"
	"schoolbell/internal/storage"
	"schoolbell/internal/tick"
	"schoolbell/internal/transport/ws"
	logx "schoolbell/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig reports enabled=false for driver "none". Empty means the
// in-memory store.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, true, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: driver, DSN: dsn}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTickConfig(cfg *config.Config) (tick.Config, error) {
	timeout, err := config.ParseDurationField("scheduler.tenant_timeout", cfg.Scheduler.TenantTimeout)
	if err != nil {
		return tick.Config{}, err
	}
	return tick.Config{
		Enabled:       cfg.Scheduler.Enabled,
		Timezone:      strings.TrimSpace(cfg.Scheduler.Timezone),
		TenantTimeout: timeout,
		Workers:       cfg.Scheduler.Workers,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationField("http.read_timeout", h.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", h.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("http.idle_timeout", h.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         strings.TrimSpace(h.Addr),
		CORSOrigins:  h.CORSOrigins,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		Pprof:        httpapi.PprofConfig{Enabled: h.Pprof.Enabled, Token: h.Pprof.Token},
	}, nil
}

func mapWSConfig(cfg *config.Config) (ws.Config, error) {
	w := cfg.HTTP.WS
	ping, err := config.ParseDurationField("http.ws.ping_interval", w.PingInterval)
	if err != nil {
		return ws.Config{}, err
	}
	pong, err := config.ParseDurationField("http.ws.pong_wait", w.PongWait)
	if err != nil {
		return ws.Config{}, err
	}
	return ws.Config{
		AllowedOrigins: w.AllowedOrigins,
		SendBuffer:     w.SendBuffer,
		PingInterval:   ping,
		PongWait:       pong,
	}, nil
}

// TokenTTL is the configured token lifetime, 12h when unset.
func TokenTTL(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("http.token_ttl", cfg.HTTP.TokenTTL, 12*time.Hour)
}

func mapRelayConfig(cfg *config.Config) relay.Config {
	r := cfg.Relay
	if r == nil {
		return relay.Config{}
	}
	return relay.Config{
		Enabled:    r.Enabled,
		Workers:    r.Workers,
		QueueSize:  r.QueueSize,
		RatePerSec: r.RatePerSec,
		RetryMax:   r.RetryMax,
	}
}

// buildSinks connects every enabled relay sink. The returned closers release
// the connections and run on Stop.
func buildSinks(cfg *config.Config, log logx.Logger) ([]relay.Sink, []func(), error) {
	r := cfg.Relay
	if r == nil || !r.Enabled {
		return nil, nil, nil
	}
	var (
		sinks   []relay.Sink
		closers []func()
	)
	fail := func(err error) ([]relay.Sink, []func(), error) {
		for _, c := range closers {
			c()
		}
		return nil, nil, err
	}

	if r.Redis.Enabled {
		client := relay.NewRedisClient(relay.RedisConfig{
			Addr:     r.Redis.Addr,
			Password: r.Redis.Password,
			DB:       r.Redis.DB,
		})
		sink := relay.NewRedisSink(client, r.Redis.Prefix)
		sinks = append(sinks, sink)
		closers = append(closers, func() { _ = sink.Close() })
		log.Info("relay sink configured", logx.String("sink", "redis"), logx.String("addr", r.Redis.Addr))
	}

	if r.MQTT.Enabled {
		client, err := relay.DialMQTT(relay.MQTTConfig{
			Enabled:  true,
			Broker:   r.MQTT.Broker,
			ClientID: r.MQTT.ClientID,
			Username: r.MQTT.Username,
			Password: r.MQTT.Password,
			Prefix:   r.MQTT.Prefix,
			QoS:      r.MQTT.QoS,
		})
		if err != nil {
			return fail(fmt.Errorf("relay.mqtt: %w", err))
		}
		sinks = append(sinks, relay.NewMQTTSink(client, r.MQTT.Prefix, r.MQTT.QoS))
		closers = append(closers, func() { client.Disconnect(250) })
		log.Info("relay sink configured", logx.String("sink", "mqtt"), logx.String("broker", r.MQTT.Broker))
	}

	if r.Telegram.Enabled {
		bot, err := relay.NewTelegramBot(r.Telegram.Token)
		if err != nil {
			return fail(fmt.Errorf("relay.telegram: %w", err))
		}
		if len(r.Telegram.Chats) == 0 {
			log.Warn("relay telegram enabled without chats; nothing will be sent")
		}
		sinks = append(sinks, relay.NewTelegramSink(bot, r.Telegram.Chats, r.Telegram.Rings))
		log.Info("relay sink configured", logx.String("sink", "telegram"), logx.Int("chats", len(r.Telegram.Chats)))
	}

	if len(sinks) == 0 {
		log.Warn("relay enabled without sinks")
	}
	return sinks, closers, nil
}

var errNoStore = errors.New("storage driver none leaves nothing to schedule")
