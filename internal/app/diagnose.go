package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/dedup"
	"relaybot/internal/storage"
	"relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

// Migrate applies the schema to the configured database and exits.
func Migrate(cfgPath string, w io.Writer) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, logx.NewConsole("INFO").With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "schema ready (%s)\n", sc.Driver)
	return st.Close()
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// Diagnose checks the bot token, the database and the dedup store and
// prints one line per check. It returns an error if any check failed.
func Diagnose(ctx context.Context, cfgPath string, w io.Writer) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	log := logx.NewConsole("WARN")

	var (
		store storage.Store
		dd    dedup.Deduper
	)
	defer func() {
		if store != nil {
			_ = store.Close()
		}
		if dd != nil {
			_ = dd.Close()
		}
	}()

	checks := []check{
		{"telegram", func(context.Context) (string, error) {
			ac, err := mapAdapterConfig(cfg)
			if err != nil {
				return "", err
			}
			// getMe runs inside adapter.New.
			ad, err := adapter.New(ac, log)
			if err != nil {
				return "", err
			}
			return "@" + ad.Username(), nil
		}},
		{"database", func(ctx context.Context) (string, error) {
			sc, err := mapStorageConfig(cfg)
			if err != nil {
				return "", err
			}
			if store, err = storage.Open(sc, log); err != nil {
				return "", err
			}
			if err := store.Ping(ctx); err != nil {
				return "", err
			}
			st, err := store.GetAggregateStats(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s, %d users, %d messages", sc.Driver, st.TotalUsers, st.TotalMessages), nil
		}},
		{"dedup", func(ctx context.Context) (string, error) {
			dc, err := mapDedupConfig(cfg)
			if err != nil {
				return "", err
			}
			if dd, err = dedup.Open(dc); err != nil {
				return "", err
			}
			if err := dd.Ping(ctx); err != nil {
				return "", err
			}
			if dc.Driver == "" {
				return "memory", nil
			}
			return dc.Driver, nil
		}},
	}

	var errs []error
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		detail, err := c.run(cctx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			fmt.Fprintf(w, "✗ %-9s %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(w, "✓ %-9s %s\n", c.name, detail)
	}
	return errors.Join(errs...)
}
