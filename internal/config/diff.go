package config

import (
	"reflect"
	"sort"
	"strings"

	logx "opsdispatch/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (gateway/media/alert tokens) are
// reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	// Gateway (never log the token)
	if oldCfg.Gateway.BaseURL != newCfg.Gateway.BaseURL ||
		oldCfg.Gateway.InstanceID != newCfg.Gateway.InstanceID ||
		oldCfg.Gateway.Timeout != newCfg.Gateway.Timeout ||
		oldCfg.Gateway.RatePerMin != newCfg.Gateway.RatePerMin ||
		tokenSet(oldCfg.Gateway.Token) != tokenSet(newCfg.Gateway.Token) {
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.String("gateway.base_url", newCfg.Gateway.BaseURL),
			logx.Int("gateway.rate_per_min", newCfg.Gateway.RatePerMin),
			logx.Bool("gateway.token_set", tokenSet(newCfg.Gateway.Token)),
		)
	}

	if oldCfg.Pacing != newCfg.Pacing {
		changed = append(changed, "pacing")
		attrs = append(attrs,
			logx.String("pacing.min_interval", strings.TrimSpace(newCfg.Pacing.MinInterval)),
			logx.String("pacing.ledger_path", strings.TrimSpace(newCfg.Pacing.LedgerPath)),
		)
	}

	if oldCfg.Identity != newCfg.Identity {
		changed = append(changed, "identity")
		attrs = append(attrs, logx.String("identity.country_code", newCfg.Identity.CountryCode))
	}

	if oldCfg.Formatter != newCfg.Formatter {
		changed = append(changed, "formatter")
		attrs = append(attrs, logx.Bool("formatter.rewriter_set", newCfg.Formatter.RewriterURL != ""))
	}

	if oldCfg.Matcher != newCfg.Matcher {
		changed = append(changed, "matcher")
		attrs = append(attrs,
			logx.Int("matcher.task_cap", newCfg.Matcher.TaskCap),
			logx.Int("matcher.scan_cap", newCfg.Matcher.ScanCap),
			logx.Int("matcher.event_cap", newCfg.Matcher.EventCap),
		)
	}

	// Media (never log the token)
	if oldCfg.Media.BaseURL != newCfg.Media.BaseURL ||
		oldCfg.Media.Timeout != newCfg.Media.Timeout ||
		oldCfg.Media.DeleteGrace != newCfg.Media.DeleteGrace ||
		tokenSet(oldCfg.Media.Token) != tokenSet(newCfg.Media.Token) {
		changed = append(changed, "media")
		attrs = append(attrs,
			logx.String("media.base_url", newCfg.Media.BaseURL),
			logx.String("media.delete_grace", strings.TrimSpace(newCfg.Media.DeleteGrace)),
		)
	}

	if oldCfg.Dashboard != newCfg.Dashboard {
		changed = append(changed, "dashboard")
		attrs = append(attrs, logx.String("dashboard.base_url", newCfg.Dashboard.BaseURL))
	}

	// Alerts (never log the token)
	if tokenSet(oldCfg.Alerts.Token) != tokenSet(newCfg.Alerts.Token) ||
		oldCfg.Alerts.ChatID != newCfg.Alerts.ChatID {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.token_set", tokenSet(newCfg.Alerts.Token)),
			logx.Bool("alerts.chat_set", newCfg.Alerts.ChatID != 0),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
			logx.Int("schedule.entries", len(newCfg.Schedule.Entries)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func tokenSet(s string) bool { return strings.TrimSpace(s) != "" }
