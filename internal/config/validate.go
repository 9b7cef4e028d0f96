package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks a parsed config. It is also the reload validator, so it
// must not touch the network.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or BOT_TOKEN)")
	}
	if cfg.Telegram.OperatorID == 0 {
		add("telegram.operator_id is required (or ADMIN_CHAT_ID)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Telegram.Mode)) {
	case "", "poll":
	case "webhook":
		u, err := url.Parse(strings.TrimSpace(cfg.Telegram.WebhookURL))
		if err != nil || u.Scheme != "https" || u.Host == "" {
			add("telegram.webhook_url must be an https url in webhook mode")
		}
	default:
		add("telegram.mode: unknown value %q", cfg.Telegram.Mode)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite":
	case "mysql", "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.dsn is required for driver %q", cfg.Storage.Driver)
		}
	default:
		add("storage.driver: unknown value %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Dedup.Driver)) {
	case "", "memory", "none":
	case "redis":
		if strings.TrimSpace(cfg.Dedup.Addr) == "" {
			add("dedup.addr is required for redis")
		}
	default:
		add("dedup.driver: unknown value %q", cfg.Dedup.Driver)
	}
	if _, err := ParseDurationField("dedup.ttl", cfg.Dedup.TTL); err != nil {
		errs = append(errs, err)
	}

	b := cfg.Broadcast
	if b.ProgressEvery < 0 || b.FailureSample < 0 || b.FailureCap < 0 || b.Burst < 0 || b.RatePerSec < 0 {
		add("broadcast: counts and rates must be >= 0")
	}
	if _, err := ParseDurationField("broadcast.progress_pause", b.ProgressPause); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseDurationField("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if strings.EqualFold(cfg.Telegram.Mode, "webhook") && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		add("http.addr is required in webhook mode")
	}

	if cfg.Digest.Enabled {
		if _, err := CronParser.Parse(DigestSchedule(cfg.Digest)); err != nil {
			add("digest.schedule: %v", err)
		}
		if _, err := LoadLocation(cfg.Digest.Timezone); err != nil {
			add("digest.timezone: %v", err)
		}
	}
	if _, err := LoadLocation(cfg.Timezone); err != nil {
		add("timezone: %v", err)
	}

	if cfg.Router.Workers < 0 || cfg.Router.QueueSize < 0 {
		add("router: workers and queue_size must be >= 0")
	}
	if _, err := ParseDurationField("router.command_timeout", cfg.Router.CommandTimeout); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

const defaultDigestSchedule = "0 9 * * *"

// CronParser accepts 5-field specs, an optional leading seconds field and
// descriptors such as @daily.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func DigestSchedule(d DigestConfig) string {
	if s := strings.TrimSpace(d.Schedule); s != "" {
		return s
	}
	return defaultDigestSchedule
}

// LoadLocation resolves an IANA zone name; empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
