package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Dedup     DedupConfig     `json:"dedup"`
	Broadcast BroadcastConfig `json:"broadcast"`
	HTTP      HTTPConfig      `json:"http"`
	Digest    DigestConfig    `json:"digest"`
	Router    RouterConfig    `json:"router"`

	// Timezone renders timestamps in /status, /history and /broadcasts
	// (IANA name, e.g. "Asia/Jakarta"). Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OperatorID is the single operator's user id. Their private chat id is
	// the same number.
	OperatorID int64 `json:"operator_id"`

	// Mode is "poll" (default) or "webhook".
	Mode string `json:"mode,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`

	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
	DropPending   bool   `json:"drop_pending,omitempty"`
}

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

// LoggingTelegram forwards WARN+ log lines to the operator's chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the relational backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./relaybot.db" }
//	"storage": { "driver": "mysql", "dsn": "user:pass@tcp(db:3306)/relay" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

type DedupConfig struct {
	Driver   string `json:"driver"` // redis, memory or none
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	TTL      string `json:"ttl,omitempty"`
}

// BroadcastConfig controls fan-out pacing. Zero values fall back to
// progress_every=15, progress_pause=1s, failure_sample=5, failure_cap=1000.
type BroadcastConfig struct {
	ProgressEvery int     `json:"progress_every,omitempty"`
	ProgressPause string  `json:"progress_pause,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	FailureSample int     `json:"failure_sample,omitempty"`
	FailureCap    int     `json:"failure_cap,omitempty"`
}

// HTTPConfig controls the health, metrics and webhook listener. An empty
// addr disables the server unless webhook mode needs it.
type HTTPConfig struct {
	Addr            string `json:"addr,omitempty"`
	Metrics         bool   `json:"metrics,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	// Pprof mounts /debug/pprof. Keep the listener on loopback when set.
	Pprof bool `json:"pprof,omitempty"`
}

type DigestConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a standard 5-field cron spec. Default "0 9 * * *".
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type RouterConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}
