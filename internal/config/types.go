package config

// DefaultPath is used when --config is not given.
const DefaultPath = "jiranotifier.yaml"

// Config is the on-disk agent configuration. Durations are Go duration
// strings (e.g. "500ms", "10s", "6h") and are parsed by Validate.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Server   ServerConfig   `json:"server"`
	Display  DisplayConfig  `json:"display"`
	Clients  ClientsConfig  `json:"clients"`
	NATS     NATSConfig     `json:"nats"`
	Shutdown ShutdownConfig `json:"shutdown"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the notification store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/notifications.db, maintenance: "@every 6h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// Maintenance is a cron spec for store compaction. "off" disables it.
	Maintenance string `json:"maintenance,omitempty"`
}

// ServerConfig controls the local HTTP surface. Prefer a loopback address;
// there is no authentication.
type ServerConfig struct {
	Addr            string `json:"addr,omitempty"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	MaxPayloadBytes int64  `json:"max_payload_bytes,omitempty"`
	Pprof           bool   `json:"pprof,omitempty"`
}

type DisplayConfig struct {
	Driver   string          `json:"driver,omitempty"`
	AppName  string          `json:"app_name,omitempty"`
	Icon     string          `json:"icon,omitempty"`
	Expire   string          `json:"expire,omitempty"`
	Telegram DisplayTelegram `json:"telegram"`
}

type DisplayTelegram struct {
	Token      string  `json:"token"` // never logged
	ChatID     int64   `json:"chat_id"`
	ThreadID   int     `json:"thread_id,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type ClientsConfig struct {
	QueueSize    int    `json:"queue_size,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// AllowedOrigins lists tracker origins whose pages may open /ws.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

type NATSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	Subject string `json:"subject,omitempty"`
}

type ShutdownConfig struct {
	Timeout string `json:"timeout,omitempty"`
}

// Default is the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "sqlite", Path: "./data/notifications.db", Maintenance: "@every 6h"},
		Display: DisplayConfig{Driver: "dbus", AppName: "Jira Notifier"},
	}
}
