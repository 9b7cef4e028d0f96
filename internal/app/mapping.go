package app

import (
	"strings"
	"time"

	"relaybot/internal/broadcast"
	"relaybot/internal/config"
	"relaybot/internal/dedup"
	"relaybot/internal/digest"
	"relaybot/internal/httpserver"
	"relaybot/internal/storage"
	"relaybot/internal/transport/telegram/adapter"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
)

func mapAdapterConfig(cfg *config.Config) (adapter.Config, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return adapter.Config{}, err
	}
	return adapter.Config{
		Token:       cfg.Telegram.Token,
		Mode:        strings.ToLower(strings.TrimSpace(cfg.Telegram.Mode)),
		PollTimeout: pollTimeout,
		PublicURL:   strings.TrimSpace(cfg.Telegram.WebhookURL),
		SecretToken: cfg.Telegram.WebhookSecret,
		DropPending: cfg.Telegram.DropPending,
	}, nil
}

// mapLogConfig points the chat sink at the operator's private chat.
func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.OperatorID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	return storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConns,
	}, nil
}

func mapDedupConfig(cfg *config.Config) (dedup.Config, error) {
	ttl, err := config.ParseDurationField("dedup.ttl", cfg.Dedup.TTL)
	if err != nil {
		return dedup.Config{}, err
	}
	return dedup.Config{
		Driver:   cfg.Dedup.Driver,
		Addr:     cfg.Dedup.Addr,
		Password: cfg.Dedup.Password,
		DB:       cfg.Dedup.DB,
		TTL:      ttl,
	}, nil
}

// mapPolicy leaves zero values for broadcast.Policy to default.
func mapPolicy(cfg *config.Config) (broadcast.Policy, error) {
	b := cfg.Broadcast
	def := broadcast.DefaultPolicy()
	pause, err := config.ParseDurationOrDefault("broadcast.progress_pause", b.ProgressPause, def.ProgressPause)
	if err != nil {
		return broadcast.Policy{}, err
	}
	return broadcast.Policy{
		ProgressEvery: b.ProgressEvery,
		ProgressPause: pause,
		RatePerSec:    b.RatePerSec,
		Burst:         b.Burst,
		FailureSample: b.FailureSample,
		FailureCap:    b.FailureCap,
	}, nil
}

func mapRouterConfig(cfg *config.Config) (router.Config, error) {
	timeout, err := config.ParseDurationOrDefault("router.command_timeout", cfg.Router.CommandTimeout, 30*time.Second)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{
		OperatorID:     cfg.Telegram.OperatorID,
		Workers:        cfg.Router.Workers,
		QueueSize:      cfg.Router.QueueSize,
		CommandTimeout: timeout,
	}, nil
}

// mapHTTPConfig reports false when no listener is configured.
func mapHTTPConfig(cfg *config.Config) (httpserver.Config, bool, error) {
	addr := strings.TrimSpace(cfg.HTTP.Addr)
	if addr == "" {
		return httpserver.Config{}, false, nil
	}
	grace, err := config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return httpserver.Config{}, false, err
	}
	return httpserver.Config{Addr: addr, ShutdownTimeout: grace, Pprof: cfg.HTTP.Pprof}, true, nil
}

// mapDigestConfig falls back to the global timezone when the digest has none.
func mapDigestConfig(cfg *config.Config) (digest.Config, error) {
	tz := cfg.Digest.Timezone
	if strings.TrimSpace(tz) == "" {
		tz = cfg.Timezone
	}
	loc, err := config.LoadLocation(tz)
	if err != nil {
		return digest.Config{}, err
	}
	return digest.Config{
		Schedule:   config.DigestSchedule(cfg.Digest),
		Location:   loc,
		OperatorID: cfg.Telegram.OperatorID,
	}, nil
}
