// Package broadcast walks the operator through composing a broadcast and
// fans it out to every active user.
//
// States: idle, collecting, confirming (held in the operator's draft slot)
// and sending (the operator's sending flag). A confirmed draft is consumed
// and the fan-out runs on its own goroutine so end-user traffic keeps
// flowing. Once sending begins only process shutdown stops it.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"relaybot/internal/eventbus"
	"relaybot/internal/format"
	"relaybot/internal/session"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

var ErrBusy = errors.New("broadcast already running")

// Spawner runs the fan-out in the background. *supervisor.Supervisor
// satisfies it.
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

type Options struct {
	Store      storage.Store
	Adapter    transport.Adapter
	Session    *session.Operator
	OperatorID int64
	Bus        eventbus.Bus
	Log        logx.Logger
	Policy     Policy
	// Spawner nil runs the fan-out inline on the caller's goroutine.
	Spawner Spawner
}

type Engine struct {
	store      storage.Store
	out        transport.Adapter
	ops        *session.Operator
	operatorID int64
	bus        eventbus.Bus
	log        logx.Logger
	spawn      Spawner

	mu     sync.RWMutex
	policy Policy
}

func New(o Options) *Engine {
	bus := o.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	log := o.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store:      o.Store,
		out:        o.Adapter,
		ops:        o.Session,
		operatorID: o.OperatorID,
		bus:        bus,
		log:        log.With(logx.String("comp", "broadcast")),
		spawn:      o.Spawner,
		policy:     o.Policy.normalize(),
	}
}

// SetPolicy swaps the pacing policy. A running fan-out keeps its own copy.
func (e *Engine) SetPolicy(p Policy) {
	e.mu.Lock()
	e.policy = p.normalize()
	e.mu.Unlock()
}

func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

var html = &transport.SendOptions{ParseMode: transport.ParseModeHTML}

func (e *Engine) notify(ctx context.Context, text string) {
	if _, err := e.out.SendText(ctx, e.operatorID, text, html); err != nil {
		e.log.Warn("operator notice failed", logx.Err(err))
	}
}

// Sending reports whether a fan-out is running.
func (e *Engine) Sending() bool { return e.ops.Sending() }

// Collecting reports whether a draft is open.
func (e *Engine) Collecting() bool {
	_, ok := e.ops.Draft()
	return ok
}

// Start opens a draft if at least one active user exists.
func (e *Engine) Start(ctx context.Context) error {
	if e.ops.Sending() {
		e.notify(ctx, format.BroadcastBusy)
		return nil
	}
	users, err := e.store.ListActiveUsers(ctx)
	if err != nil {
		e.ops.ClearDraft()
		e.notify(ctx, format.GenericFailure)
		return err
	}
	if len(users) == 0 {
		e.notify(ctx, format.NoRecipients)
		return nil
	}
	e.ops.StartDraft()
	e.notify(ctx, format.BroadcastStart(len(users)).String())
	return nil
}

// Collect consumes operator input while a draft is open. It returns false
// when no draft is open.
func (e *Engine) Collect(ctx context.Context, msg *transport.Message) bool {
	d, ok := e.ops.Draft()
	if !ok || msg == nil {
		return false
	}
	if d.Phase != session.Collecting {
		e.log.Debug("input ignored while confirming")
		return true
	}

	photo := msg.PhotoFileID != ""
	body := msg.Body()
	if !photo && body == "" {
		e.notify(ctx, format.BroadcastNeedsBody)
		return true
	}
	if photo {
		if n := format.VisibleLen(format.Announcement(body)); n > format.CaptionLimit {
			e.notify(ctx, format.CaptionTooLong(n).String())
			return true
		}
	}

	users, err := e.store.ListActiveUsers(ctx)
	if err != nil {
		e.ops.ClearDraft()
		e.notify(ctx, format.GenericFailure)
		e.log.Error("list recipients failed", logx.Err(err))
		return true
	}
	if len(users) == 0 {
		e.ops.ClearDraft()
		e.notify(ctx, format.NoRecipients)
		return true
	}

	next := session.Draft{Phase: session.Confirming, Photo: photo, Body: body, FileID: msg.PhotoFileID, Recipients: len(users)}
	if !e.ops.SetDraft(next) {
		return true
	}
	preview := format.BroadcastPreview(photo, body, len(users)).String()
	if photo {
		if _, err := e.out.SendPhoto(ctx, e.operatorID, msg.PhotoFileID, preview, html); err != nil {
			e.log.Warn("preview failed", logx.Err(err))
		}
		return true
	}
	e.notify(ctx, preview)
	return true
}

// Confirm consumes a confirming draft and starts the fan-out.
func (e *Engine) Confirm(ctx context.Context) error {
	d, ok := e.ops.Draft()
	if !ok || d.Phase != session.Confirming {
		e.notify(ctx, format.NothingToConfirm)
		return nil
	}
	if !e.ops.BeginSending() {
		e.notify(ctx, format.BroadcastBusy)
		return ErrBusy
	}
	e.ops.ClearDraft()

	run := func(ctx context.Context) {
		defer e.ops.EndSending()
		if _, err := e.Run(ctx, d); err != nil {
			e.log.Error("broadcast aborted", logx.Err(err))
		}
	}
	if e.spawn == nil {
		run(ctx)
		return nil
	}
	e.spawn.Go0("broadcast.run", run)
	return nil
}

// Cancel discards an open draft. A running fan-out is not affected.
func (e *Engine) Cancel(ctx context.Context) bool {
	if !e.ops.ClearDraft() {
		return false
	}
	e.notify(ctx, format.BroadcastCancelled)
	return true
}
