package config

// Config is the on-disk configuration (JSON, or YAML by file extension).
//
// Example:
//
//	{
//	  "github_target_user": "octocat",
//	  "telegram_bot_token": "123:abc",
//	  "webhook_secret": "s3cret",
//	  "targets": [
//	    {"chat_id": "@releases"},
//	    {"chat_id": "@builds", "message_thread_id": 20859, "filter_tag": "nightly"}
//	  ]
//	}
type Config struct {
	Targets          []Target `json:"targets"`
	TelegramBotToken string   `json:"telegram_bot_token"`
	WebhookSecret    string   `json:"webhook_secret"`
	GitHubTargetUser string   `json:"github_target_user"`

	Server    ServerConfig    `json:"server"`
	Telegram  TelegramConfig  `json:"telegram"`
	Storage   StorageConfig   `json:"storage"`
	Retention RetentionConfig `json:"retention"`
	Logging   LoggingConfig   `json:"logging"`
}

// Target is one chat destination. ChatID is either a numeric id or an
// @channel username. MessageThreadID selects a forum topic.
type Target struct {
	ChatID          string `json:"chat_id"`
	MessageThreadID int    `json:"message_thread_id,omitempty"`
	FilterTag       string `json:"filter_tag,omitempty"`
}

type ServerConfig struct {
	Addr        string `json:"addr,omitempty"`         // default ":5000"
	WebhookPath string `json:"webhook_path,omitempty"` // default "/webhook"
	BodyLimit   int    `json:"body_limit,omitempty"`   // bytes, default 4 MiB
	Pprof       bool   `json:"pprof,omitempty"`        // expose /debug/pprof on the same listener
}

// TelegramConfig tunes the Bot API client.
//
// All durations are Go duration strings (e.g. "10s", "3m").
type TelegramConfig struct {
	APIURL         string `json:"api_url,omitempty"`         // default https://api.telegram.org
	RequestTimeout string `json:"request_timeout,omitempty"` // default "10s"
	UploadTimeout  string `json:"upload_timeout,omitempty"`  // default "180s"
	RatePerSec     int    `json:"rate_per_sec,omitempty"`    // default 20
}

// StorageConfig selects the delivery record backend.
//
//	"storage": { "driver": "sqlite", "path": "./sent_messages.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) | "file"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// RetentionConfig controls the cleanup sweep.
//
// Enabled is a pointer so an omitted block keeps the sweep on.
type RetentionConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	Schedule   string `json:"schedule,omitempty"` // cron line, descriptor or Go duration; default "@every 24h"
	MaxAge     string `json:"max_age,omitempty"`  // default "168h"
	RunOnStart bool   `json:"run_on_start,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// RetentionEnabled reports the effective enabled flag (default true).
func (c *Config) RetentionEnabled() bool {
	if c == nil || c.Retention.Enabled == nil {
		return true
	}
	return *c.Retention.Enabled
}
