package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/dedup"
	"relaybot/internal/format"
	"relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOperator
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update   kit.Update
	ChatID   int64
	From     kit.Sender
	Operator bool
	Command  string
	Args     []string
	ReqID    string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Arg returns the i-th command argument or "".
func (r *Request) Arg(i int) string {
	if r == nil || i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// Reply sends HTML text back to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.ChatID, text, &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true})
	return err
}

// Flows handles everything that is not a registered command.
type Flows struct {
	// Inbound receives end-user texts and photos.
	Inbound HandlerFunc
	// OperatorInput receives operator texts and photos.
	OperatorInput HandlerFunc
	// Callback receives inline button presses from anyone.
	Callback HandlerFunc
	// Touch refreshes a user row for traffic that is otherwise refused.
	Touch func(ctx context.Context, s kit.Sender) error
}

type Config struct {
	OperatorID     int64
	Workers        int
	QueueSize      int
	CommandTimeout time.Duration
}

// Manager routes decoded updates. Operator traffic runs on one sequential
// queue so session state is mutated in order; end-user traffic runs on a
// worker pool so a slow operator action never stalls relay.
type Manager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command
	flows Flows

	cfg     Config
	log     logx.Logger
	adapter kit.Adapter
	dedup   dedup.Deduper

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	opJobs   chan func()
	userJobs chan func()
}

func NewManager(log logx.Logger, adapter kit.Adapter, dd dedup.Deduper, cfg Config) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if dd == nil {
		dd, _ = dedup.Open(dedup.Config{Driver: "none"})
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Manager{
		cmds:     map[string]*Command{},
		alias:    map[string]*Command{},
		cfg:      cfg,
		log:      log.With(logx.String("comp", "telegram.router")),
		adapter:  adapter,
		dedup:    dd,
		opJobs:   make(chan func(), cfg.QueueSize),
		userJobs: make(chan func(), cfg.QueueSize),
	}
}

func (m *Manager) isOperator(id int64) bool { return id != 0 && id == m.cfg.OperatorID }

// SetRegistry replaces the command set and the non-command flows.
func (m *Manager) SetRegistry(cmds []Command, flows Flows) {
	byName := map[string]*Command{}
	alias := map[string]*Command{}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		byName[name] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = &cc
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.alias = alias
	m.flows = flows
	m.mu.Unlock()

	// Best-effort Telegram /menu update.
	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(cmds)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Debug("menu update failed", logx.Err(err))
			}
		}()
	}
}

// snapshot returns the command for name (nil if unknown) and the flows.
func (m *Manager) snapshot(name string) (*Command, Flows) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[name]; ok {
		return c, m.flows
	}
	return m.alias[name], m.flows
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func tryEnqueue(jobs chan func(), fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case jobs <- fn:
		return true
	default:
		return false
	}
}

func (m *Manager) routeUpdate(root context.Context, up kit.Update) {
	from := up.From()
	op := m.isOperator(from.ID)

	req := &Request{
		Update:   up,
		ChatID:   up.ChatID(),
		From:     from,
		Operator: op,
		ReqID:    uuid.NewString(),
		Adapter:  m.adapter,
	}

	var name string
	if up.Command != nil {
		name = up.Command.Name
	}
	cmd, flows := m.snapshot(name)

	var (
		h       HandlerFunc
		timeout = m.cfg.CommandTimeout
	)
	switch up.Kind {
	case kit.UpdateCommand:
		if up.Command == nil {
			return
		}
		req.Command = up.Command.Name
		req.Args = up.Command.Args
		switch {
		case cmd == nil && op:
			_, _ = m.adapter.SendText(root, req.ChatID, format.UnknownCommand, nil)
			return
		case cmd == nil:
			tryEnqueue(m.userJobs, func() { m.touch(root, flows, from) })
			return
		case cmd.Access == AccessOperator && !op:
			tryEnqueue(m.userJobs, func() { m.touch(root, flows, from) })
			_, _ = m.adapter.SendText(root, req.ChatID, format.OperatorOnly, nil)
			return
		}
		req.Command = cmd.Name
		h = cmd.Handle
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	case kit.UpdateText, kit.UpdatePhoto:
		if op {
			req.Command = "operator.input"
			h = flows.OperatorInput
		} else {
			req.Command = "relay.inbound"
			h = flows.Inbound
		}
	case kit.UpdateCallback:
		req.Command = "callback"
		h = flows.Callback
	default:
		return
	}
	if h == nil {
		return
	}

	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.ChatID),
		logx.Int64("from_id", from.ID),
		logx.String("cmd", req.Command),
	)
	final := Chain(
		h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWDedup(m.dedup),
		MWTimeout(timeout),
	)

	jobs := m.userJobs
	if op {
		jobs = m.opJobs
	}
	if !tryEnqueue(jobs, func() { _ = final(root, req) }) {
		m.log.Warn("dispatch queue full, update dropped", logx.Int64("update_id", up.ID), logx.Bool("operator", op))
		if op {
			_, _ = m.adapter.SendText(root, req.ChatID, "⏳ Busy, try again.", nil)
		}
	}
}

func (m *Manager) touch(ctx context.Context, flows Flows, s kit.Sender) {
	if flows.Touch == nil || s.ID == 0 {
		return
	}
	if err := flows.Touch(ctx, s); err != nil {
		m.log.Warn("user refresh failed", logx.Int64("user_id", s.ID), logx.Err(err))
	}
}

func updateKey(up kit.Update) string {
	if up.ID == 0 {
		return ""
	}
	return strconv.FormatInt(up.ID, 10)
}
