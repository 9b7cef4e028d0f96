package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides secrets and deployment knobs from the environment.
// Unset or blank variables leave the file value alone.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if cfg == nil {
		return nil
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	env := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := env("BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := env("ADMIN_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ADMIN_CHAT_ID: %w", err)
		}
		cfg.Telegram.OperatorID = id
	}
	if v := env("WEBHOOK_URL"); v != "" {
		cfg.Telegram.WebhookURL = v
		if cfg.Telegram.Mode == "" {
			cfg.Telegram.Mode = "webhook"
		}
	}
	if v := env("WEBHOOK_SECRET"); v != "" {
		cfg.Telegram.WebhookSecret = v
	}

	if v := env("DB_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	dsn := env("DB_DSN")
	if dsn == "" {
		dsn = env("DATABASE_URL")
	}
	if dsn != "" {
		if strings.EqualFold(cfg.Storage.Driver, "sqlite") {
			cfg.Storage.Path = dsn
		} else {
			cfg.Storage.DSN = dsn
		}
	}

	if v := env("REDIS_ADDR"); v != "" {
		cfg.Dedup.Addr = v
		if cfg.Dedup.Driver == "" {
			cfg.Dedup.Driver = "redis"
		}
	}

	switch {
	case env("HTTP_ADDR") != "":
		cfg.HTTP.Addr = env("HTTP_ADDR")
	case env("PORT") != "":
		cfg.HTTP.Addr = ":" + env("PORT")
	}
	return nil
}
