// Package digest sends the operator a periodic statistics summary.
package digest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/format"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Config struct {
	Schedule   string
	Location   *time.Location
	OperatorID int64
	// Timeout bounds one digest run.
	Timeout time.Duration
}

type Service struct {
	cfg    Config
	parser cron.Parser
	store  storage.Store
	out    Sender
	log    logx.Logger

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

func New(cfg Config, parser cron.Parser, store storage.Store, out Sender, log logx.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, parser: parser, store: store, out: out, log: log.With(logx.String("comp", "digest"))}
}

// Send renders the current aggregate stats and delivers them to the operator.
func (s *Service) Send(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	st, err := s.store.GetAggregateStats(ctx)
	if err != nil {
		return err
	}
	_, err = s.out.SendText(ctx, s.cfg.OperatorID, format.Digest(st).String(), &transport.SendOptions{ParseMode: transport.ParseModeHTML})
	return err
}

// Start schedules the digest. Runs stop when ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("digest already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.cfg.Location))
	// SkipIfStillRunning keeps a slow database from stacking runs.
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		if err := s.Send(runCtx); err != nil && runCtx.Err() == nil {
			s.log.Warn("digest failed", logx.Err(err))
			return
		}
		s.log.Debug("digest sent")
	}))
	id, err := c.AddJob(s.cfg.Schedule, job)
	if err != nil {
		cancel()
		return err
	}
	c.Start()
	s.c, s.cancel = c, cancel
	s.log.Info("digest scheduled", logx.String("schedule", s.cfg.Schedule), logx.Time("next", c.Entry(id).Next))
	return nil
}

// Stop cancels a running digest and waits for it to return.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
