package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Relay    RelayConfig    `json:"relay"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Debug    DebugConfig    `json:"debug,omitempty"`
	Report   ReportConfig   `json:"report,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// AckItems replies to the producer after each accepted item.
	// Pointer so an omitted key keeps the default (true).
	AckItems *bool `json:"ack_items,omitempty"`
}

func (t TelegramConfig) AckEnabled() bool { return t.AckItems == nil || *t.AckItems }

// RelayConfig controls batching.
//
// Example:
//
//	"relay": {
//	  "destination": "@my_channel",
//	  "interval": "10m",
//	  "interval_presets": ["1m", "5m", "10m", "30m", "1h", "2h"],
//	  "batch_max": 100,
//	  "order": "newest_first"
//	}
//
// Destination is "@username" or a numeric chat id ("-100..."). Interval is
// a Go duration string; any positive value is accepted, presets only feed
// the /interval keyboard.
type RelayConfig struct {
	Destination     string   `json:"destination"`
	Interval        string   `json:"interval"`
	IntervalPresets []string `json:"interval_presets,omitempty"`
	BatchMax        int      `json:"batch_max,omitempty"`
	Order           string   `json:"order,omitempty"` // newest_first (default) | oldest_first
	// DeleteOriginals removes the source message after a successful forward.
	// Omitted means true.
	DeleteOriginals *bool `json:"delete_originals,omitempty"`
	HistorySize     int   `json:"history_size,omitempty"`
	// SendRatePerSec paces forwards inside a batch; 0 disables pacing.
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
}

func (r RelayConfig) DeleteEnabled() bool { return r.DeleteOriginals == nil || *r.DeleteOriginals }

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional dispatch audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/lotebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the optional HTTP server (/healthz, /status,
// /metrics, /debug/pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	// RuntimeMetrics adds Go runtime and process collectors to /metrics.
	RuntimeMetrics bool `json:"runtime_metrics,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// ReportConfig posts a periodic status message to telegram.group_log.
// Schedule is a cron spec (5 fields, or descriptors like "@hourly").
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}
