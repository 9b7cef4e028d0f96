package config

import (
	"hash/fnv"
	"sort"
	"strings"

	logx "relaybot/pkg/logx"
)

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Secrets (token, webhook secret, DSN, redis
// password) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.OperatorID != nt.OperatorID || ot.Mode != nt.Mode ||
		ot.PollTimeout != nt.PollTimeout || ot.WebhookURL != nt.WebhookURL || ot.WebhookSecret != nt.WebhookSecret {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.mode", nt.Mode),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Bool("telegram.operator_changed", ot.OperatorID != nt.OperatorID),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Dedup != newCfg.Dedup {
		changed = append(changed, "dedup")
		attrs = append(attrs, logx.String("dedup.driver", newCfg.Dedup.Driver))
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		b := newCfg.Broadcast
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Int("broadcast.progress_every", b.ProgressEvery),
			logx.String("broadcast.progress_pause", b.ProgressPause),
			logx.Float64("broadcast.rate_per_sec", b.RatePerSec),
			logx.Int("broadcast.failure_cap", b.FailureCap),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if oldCfg.Digest != newCfg.Digest {
		changed = append(changed, "digest")
		attrs = append(attrs, logx.Bool("digest.enabled", newCfg.Digest.Enabled))
	}
	if oldCfg.Router != newCfg.Router {
		changed = append(changed, "router")
	}
	if oldCfg.Timezone != newCfg.Timezone {
		changed = append(changed, "timezone")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports changed sections that only take effect on the
// next start.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "broadcast":
		default:
			out = append(out, s)
		}
	}
	return out
}
