package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "relaybot/internal/transport"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig forwards lines at or above MinLevel to ChatID.
type ChatConfig struct {
	Enabled    bool
	ChatID     int64
	MinLevel   string
	RatePerSec int
}

// ChatSender delivers chat sink lines. The Telegram adapter satisfies it.
type ChatSender interface {
	SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service owns the sinks behind every Logger it hands out and can rebuild
// them at runtime.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu       sync.Mutex
	file     *os.File
	sender   ChatSender
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue      chan chatLine
	workerOnce sync.Once
	stopWorker context.CancelFunc
	workerWG   sync.WaitGroup
}

type chatLine struct {
	chatID int64
	text   string
}

// New builds the service from cfg and returns it with its root Logger.
// sender may be nil, which keeps the chat sink silent.
func New(cfg Config, sender ChatSender) (*Service, Logger) {
	setGlobals()
	s := &Service{sender: sender, queue: make(chan chatLine, 256)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the sinks. Loggers derived from the service pick up the
// change on their next line.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chatID = cfg.Chat.ChatID
	s.minLevel = parseLevel(cfg.Chat.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.Chat.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Chat.Enabled {
		s.workerOnce.Do(s.startWorker)
		sinks = append(sinks, chatWriter{s})
		if s.chatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: chat sink enabled without a chat id")
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the chat worker and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f, stop := s.file, s.stopWorker
	s.file, s.stopWorker = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		s.workerWG.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "./relaybot.log"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

// startWorker runs with s.mu held.
func (s *Service) startWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopWorker = cancel
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ln := <-s.queue:
				s.mu.Lock()
				sender := s.sender
				s.mu.Unlock()
				if sender != nil {
					_, _ = sender.SendText(ctx, ln.chatID, ln.text, &kit.SendOptions{DisablePreview: true})
				}
			}
		}
	}()
}

// offer queues a chat line unless it is filtered, rate limited or the queue
// is full. Logging never waits on Telegram.
func (s *Service) offer(level zerolog.Level, p []byte) {
	s.mu.Lock()
	chatID, sender, lim, minLevel := s.chatID, s.sender, s.limiter, s.minLevel
	s.mu.Unlock()

	if chatID == 0 || sender == nil || level < minLevel || !lim.Allow() {
		return
	}
	text := formatChatLine(p)
	if text == "" {
		return
	}
	select {
	case s.queue <- chatLine{chatID: chatID, text: text}:
	default:
	}
}
