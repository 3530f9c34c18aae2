package config

import (
	"reflect"
	"strings"

	logx "releasebot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging. Tokens and secrets are only reported as "set".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	fields := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Targets, newCfg.Targets) {
		changed = append(changed, "targets")
		fields = append(fields, logx.Int("targets.count", len(newCfg.Targets)))
	}
	if oldCfg.TelegramBotToken != newCfg.TelegramBotToken {
		changed = append(changed, "telegram_bot_token")
		fields = append(fields, logx.Bool("telegram_bot_token.set", !IsPlaceholder(newCfg.TelegramBotToken)))
	}
	if oldCfg.WebhookSecret != newCfg.WebhookSecret {
		changed = append(changed, "webhook_secret")
		fields = append(fields, logx.Bool("webhook_secret.set", !IsPlaceholder(newCfg.WebhookSecret)))
	}
	if !strings.EqualFold(oldCfg.GitHubTargetUser, newCfg.GitHubTargetUser) {
		changed = append(changed, "github_target_user")
		fields = append(fields, logx.String("github_target_user", newCfg.GitHubTargetUser))
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
	}
	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Retention, newCfg.Retention) {
		changed = append(changed, "retention")
		fields = append(fields,
			logx.Bool("retention.enabled", newCfg.RetentionEnabled()),
			logx.String("retention.schedule", newCfg.Retention.Schedule),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields, logx.String("logging.level", newCfg.Logging.Level))
	}
	return changed, fields
}

// RequiresRestart reports sections that are only read at startup.
func RequiresRestart(changed []string) []string {
	out := make([]string, 0, len(changed))
	for _, c := range changed {
		switch c {
		case "server", "storage", "telegram", "telegram_bot_token", "retention":
			out = append(out, c)
		}
	}
	return out
}
