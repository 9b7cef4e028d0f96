// Package commands registers the bot's slash commands and wires the
// non-command flows (relay, reply, broadcast) into the router.
package commands

import (
	"context"
	"strconv"
	"time"

	"relaybot/internal/broadcast"
	"relaybot/internal/format"
	"relaybot/internal/relay"
	"relaybot/internal/reply"
	"relaybot/internal/runtime/procinfo"
	"relaybot/internal/storage"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
)

const (
	defaultHistory    = 10
	maxHistory        = 50
	defaultBroadcasts = 10
	maxBroadcasts     = 20
	recentActivity    = 5
)

type Deps struct {
	Store     storage.Store
	Relay     *relay.Router
	Reply     *reply.Machine
	Broadcast *broadcast.Engine
	Log       logx.Logger

	// Started is the process start time for the uptime line.
	Started time.Time
	// Location renders timestamps; nil means time.Local.
	Location *time.Location
	// MemoryRSS overrides the process memory probe (tests).
	MemoryRSS func(ctx context.Context) uint64
}

type Set struct {
	d   Deps
	log logx.Logger
}

func New(d Deps) *Set {
	if d.Started.IsZero() {
		d.Started = time.Now()
	}
	if d.MemoryRSS == nil {
		d.MemoryRSS = procinfo.RSS
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Set{d: d, log: log.With(logx.String("comp", "commands"))}
}

func (s *Set) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Start the bot", Access: router.AccessEveryone, Handle: s.start},
		{Name: "status", Description: "Bot status dashboard", Access: router.AccessOperator, Handle: s.status},
		{Name: "stats", Description: "Detailed statistics", Access: router.AccessOperator, Handle: s.stats},
		{Name: "history", Description: "Recent messages", Usage: "/history [n]", Access: router.AccessOperator, Handle: s.history},
		{Name: "broadcast", Description: "Send to all users", Access: router.AccessOperator, Handle: s.broadcast},
		{Name: "broadcasts", Description: "Broadcast history", Usage: "/broadcasts [n]", Access: router.AccessOperator, Handle: s.broadcasts},
		{Name: "confirm", Description: "Send the pending broadcast", Access: router.AccessOperator, Handle: s.confirm},
		{Name: "cancel", Description: "Cancel a reply or broadcast", Access: router.AccessOperator, Handle: s.cancel},
		{Name: "help", Aliases: []string{"h"}, Description: "Admin help", Access: router.AccessOperator, Handle: s.help},
	}
}

// countArg parses an optional positive count, falling back to def and
// clamping to limit.
func countArg(raw string, def, limit int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > limit {
		return limit
	}
	return n
}

func (s *Set) start(ctx context.Context, req *router.Request) error {
	if !req.Operator {
		u, err := s.d.Relay.TouchUser(ctx, req.From)
		if err != nil {
			_ = req.Reply(ctx, format.GenericFailure)
			return err
		}
		return req.Reply(ctx, format.Welcome(u.FirstName).String())
	}
	st, err := s.d.Store.GetAggregateStats(ctx)
	if err != nil {
		_ = req.Reply(ctx, format.GenericFailure)
		return err
	}
	return req.Reply(ctx, format.OperatorPanel(st).String())
}

func (s *Set) status(ctx context.Context, req *router.Request) error {
	st, err := s.d.Store.GetAggregateStats(ctx)
	if err != nil {
		_ = req.Reply(ctx, format.GenericFailure)
		return err
	}
	recent, err := s.d.Store.ListRecentMessages(ctx, recentActivity)
	if err != nil {
		_ = req.Reply(ctx, format.GenericFailure)
		return err
	}
	rt := format.Runtime{
		Uptime:     time.Since(s.d.Started),
		MemoryRSS:  s.d.MemoryRSS(ctx),
		DatabaseOK: s.d.Store.Ping(ctx) == nil,
		Sending:    s.d.Broadcast != nil && s.d.Broadcast.Sending(),
	}
	return req.Reply(ctx, format.Status(rt, st, recent, s.d.Location).String())
}

func (s *Set) stats(ctx context.Context, req *router.Request) error {
	st, err := s.d.Store.GetAggregateStats(ctx)
	if err != nil {
		_ = req.Reply(ctx, format.GenericFailure)
		return err
	}
	return req.Reply(ctx, format.Stats(st).String())
}

func (s *Set) history(ctx context.Context, req *router.Request) error {
	n := countArg(req.Arg(0), defaultHistory, maxHistory)
	msgs, err := s.d.Store.ListRecentMessages(ctx, n)
	if err != nil {
		_ = req.Reply(ctx, format.GenericFailure)
		return err
	}
	return req.Reply(ctx, format.History(msgs, s.d.Location).String())
}

func (s *Set) broadcasts(ctx context.Context, req *router.Request) error {
	n := countArg(req.Arg(0), defaultBroadcasts, maxBroadcasts)
	list, err := s.d.Store.ListBroadcasts(ctx, n)
	if err != nil {
		_ = req.Reply(ctx, format.GenericFailure)
		return err
	}
	return req.Reply(ctx, format.Broadcasts(list, s.d.Location).String())
}

func (s *Set) broadcast(ctx context.Context, req *router.Request) error {
	return s.d.Broadcast.Start(ctx)
}

func (s *Set) confirm(ctx context.Context, req *router.Request) error {
	return s.d.Broadcast.Confirm(ctx)
}

func (s *Set) cancel(ctx context.Context, req *router.Request) error {
	if s.d.Reply.Cancel(ctx) || s.d.Broadcast.Cancel(ctx) {
		return nil
	}
	return req.Reply(ctx, format.NothingToCancel)
}

func (s *Set) help(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, format.Help().String())
}
