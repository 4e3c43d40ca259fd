package config

// Config is the whole file. Durations are Go duration strings ("500ms", "10s").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http"`

	// Relay is optional; omitted means no out-of-process forwarding.
	Relay *RelayConfig `json:"relay,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// Format is "text" (default) or "json" for console output.
	Format string      `json:"format,omitempty"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the minute tick.
//
// Defaults (when fields are omitted/zero):
//   - timezone: process local zone
//   - tenant_timeout: "10s"
//   - workers: 4
type SchedulerConfig struct {
	Enabled       bool   `json:"enabled"`
	Timezone      string `json:"timezone,omitempty"`
	TenantTimeout string `json:"tenant_timeout,omitempty"`
	Workers       int    `json:"workers,omitempty"`
}

// StorageConfig selects the store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./schoolbell.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; prefer SCHOOLBELL_DATABASE_DSN
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type HTTPConfig struct {
	Addr        string   `json:"addr"`
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// JWTSecret signs listener and authoring tokens (do not log).
	JWTSecret string `json:"jwt_secret,omitempty"`
	TokenTTL  string `json:"token_ttl,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	WS    WSConfig    `json:"ws"`
	Pprof PprofConfig `json:"pprof"`
}

type WSConfig struct {
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	SendBuffer     int      `json:"send_buffer,omitempty"`
	PingInterval   string   `json:"ping_interval,omitempty"`
	PongWait       string   `json:"pong_wait,omitempty"`
}

// PprofConfig mounts /debug/pprof on the API listener.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// RelayConfig controls forwarding of bell and alarm events.
//
// Defaults: workers 2, queue_size 256, rate_per_sec 20, retry_max 0.
type RelayConfig struct {
	Enabled    bool `json:"enabled"`
	Workers    int  `json:"workers,omitempty"`
	QueueSize  int  `json:"queue_size,omitempty"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`
	RetryMax   int  `json:"retry_max,omitempty"`

	Redis    RedisConfig    `json:"redis"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Telegram TelegramConfig `json:"telegram"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	QoS      byte   `json:"qos,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // prefer SCHOOLBELL_TELEGRAM_TOKEN
	// Chats maps a school id to its chat id.
	Chats map[string]int64 `json:"chats,omitempty"`
	Rings bool             `json:"rings,omitempty"`
}
