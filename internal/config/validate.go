package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Placeholder values shipped in sample configs. They count as "not set".
var placeholders = map[string]struct{}{
	"your_token_here":     {},
	"your_secret_here":    {},
	"your_webhook_secret": {},
	"changeme":            {},
}

// IsPlaceholder reports whether v is empty or a sample-config placeholder.
func IsPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return true
	}
	_, ok := placeholders[v]
	return ok
}

// ApplyEnv lets TELEGRAM_BOT_TOKEN and WEBHOOK_SECRET override the file.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		cfg.TelegramBotToken = v
	}
	if v := strings.TrimSpace(getenv("WEBHOOK_SECRET")); v != "" {
		cfg.WebhookSecret = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_TARGET_USER")); v != "" {
		cfg.GitHubTargetUser = v
	}
}

// Validate rejects configs that would break the relay at runtime.
// It never touches the network.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	for i, t := range cfg.Targets {
		if strings.TrimSpace(t.ChatID) == "" {
			errs = append(errs, fmt.Errorf("targets[%d].chat_id is required", i))
		}
		if t.MessageThreadID < 0 {
			errs = append(errs, fmt.Errorf("targets[%d].message_thread_id must be >= 0", i))
		}
	}
	durations := []struct{ path, raw string }{
		{"telegram.request_timeout", cfg.Telegram.RequestTimeout},
		{"telegram.upload_timeout", cfg.Telegram.UploadTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"retention.max_age", cfg.Retention.MaxAge},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Telegram.RatePerSec < 0 {
		errs = append(errs, errors.New("telegram.rate_per_sec must be >= 0"))
	}
	if cfg.Server.BodyLimit < 0 {
		errs = append(errs, errors.New("server.body_limit must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}
	return errors.Join(errs...)
}

// ParseDurationField parses a Go duration string. Empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty/zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
