package app

import (
	"strings"
	"time"

	"releasebot/internal/config"
	"releasebot/internal/relay"
	"releasebot/internal/retention"
	"releasebot/internal/server"
	"releasebot/internal/storage"
	"releasebot/internal/telegram"
	logx "releasebot/pkg/logx"
)

// secretOrEmpty maps placeholder values to "" so they count as unset.
func secretOrEmpty(v string) string {
	if config.IsPlaceholder(v) {
		return ""
	}
	return strings.TrimSpace(v)
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	req, err := config.ParseDurationOrDefault("telegram.request_timeout", cfg.Telegram.RequestTimeout, telegram.DefaultRequestTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	up, err := config.ParseDurationOrDefault("telegram.upload_timeout", cfg.Telegram.UploadTimeout, telegram.DefaultUploadTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          secretOrEmpty(cfg.TelegramBotToken),
		APIURL:         strings.TrimSpace(cfg.Telegram.APIURL),
		RequestTimeout: req,
		UploadTimeout:  up,
		RatePerSec:     cfg.Telegram.RatePerSec,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapRetentionOptions(cfg *config.Config) (retention.Options, error) {
	maxAge, err := config.ParseDurationOrDefault("retention.max_age", cfg.Retention.MaxAge, retention.DefaultMaxAge)
	if err != nil {
		return retention.Options{}, err
	}
	if _, err := retention.ParseSchedule(cfg.Retention.Schedule); err != nil {
		return retention.Options{}, err
	}
	return retention.Options{
		MaxAge:     maxAge,
		Schedule:   cfg.Retention.Schedule,
		RunOnStart: cfg.Retention.RunOnStart,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapSettings(cfg *config.Config) relay.Settings {
	dests := make([]relay.Destination, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		dests = append(dests, relay.Destination{
			ChatID:    strings.TrimSpace(t.ChatID),
			ThreadID:  t.MessageThreadID,
			FilterTag: t.FilterTag,
		})
	}
	return relay.Settings{
		TargetUser:   strings.TrimSpace(cfg.GitHubTargetUser),
		Destinations: dests,
	}
}

func serverAddr(cfg *config.Config) string {
	if a := strings.TrimSpace(cfg.Server.Addr); a != "" {
		return a
	}
	return server.DefaultAddr
}
