// Package reply completes the operator's pending reply.
//
// The machine is idle when the operator record has no reply slot and
// awaiting text or image otherwise. Every outcome other than a mismatched
// input type returns it to idle.
package reply

import (
	"context"
	"errors"
	"fmt"

	"relaybot/internal/eventbus"
	"relaybot/internal/format"
	"relaybot/internal/session"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Options struct {
	Store      storage.Store
	Adapter    transport.Adapter
	Session    *session.Operator
	OperatorID int64
	Bus        eventbus.Bus
	Log        logx.Logger
}

type Machine struct {
	store      storage.Store
	out        transport.Adapter
	ops        *session.Operator
	operatorID int64
	bus        eventbus.Bus
	log        logx.Logger
}

func New(o Options) *Machine {
	bus := o.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	log := o.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Machine{
		store:      o.Store,
		out:        o.Adapter,
		ops:        o.Session,
		operatorID: o.OperatorID,
		bus:        bus,
		log:        log.With(logx.String("comp", "reply")),
	}
}

var html = &transport.SendOptions{ParseMode: transport.ParseModeHTML}

// Pending reports whether a reply is open.
func (m *Machine) Pending() bool {
	_, ok := m.ops.Reply()
	return ok
}

// Handle consumes one operator message. It returns false when no reply is
// pending so the caller can drop the input.
func (m *Machine) Handle(ctx context.Context, msg *transport.Message) bool {
	r, ok := m.ops.Reply()
	if !ok || msg == nil {
		return false
	}
	image := r.Mode == session.AwaitImage
	photo := msg.PhotoFileID != ""
	if image != photo {
		m.log.Debug("reply input ignored", logx.String("mode", string(r.Mode)), logx.Bool("photo", photo))
		return true
	}

	u, err := m.store.GetUserByExternalID(ctx, r.TargetChatID)
	if errors.Is(err, storage.ErrNotFound) {
		m.finish(ctx, format.UserNotFound)
		m.fail(r, err)
		return true
	}
	if err != nil {
		m.finish(ctx, format.GenericFailure)
		m.fail(r, err)
		return true
	}

	rec := storage.Message{
		UserID: u.ID,
		ChatID: r.TargetChatID,
		Body:   msg.Body(),
		Role:   storage.RoleOperator,
		Media:  storage.MediaText,
	}
	var ref transport.MessageRef
	if image {
		rec.Media = storage.MediaPhoto
		rec.MediaRef = msg.PhotoFileID
		ref, err = m.out.SendPhoto(ctx, r.TargetChatID, msg.PhotoFileID, format.CustomerImageCaption(msg.Caption).String(), html)
	} else {
		ref, err = m.out.SendText(ctx, r.TargetChatID, format.CustomerReply(msg.Text).String(), html)
	}
	if err != nil {
		m.finish(ctx, format.Failed(err).String())
		m.fail(r, fmt.Errorf("deliver reply: %w", err))
		return true
	}
	rec.ExternalMsgID = int64(ref.MessageID)
	rec.Forwarded = true

	if _, err := m.store.SaveMessage(ctx, rec); err != nil {
		m.finish(ctx, format.Failed(err).String())
		m.fail(r, fmt.Errorf("save reply: %w", err))
		return true
	}
	if r.MessageID > 0 {
		if err := m.store.MarkReplied(ctx, r.MessageID); err != nil {
			m.log.Warn("mark replied failed", logx.Int64("message_id", r.MessageID), logx.Err(err))
		}
	}

	m.finish(ctx, format.ReplySent(image, u).String())
	m.bus.Publish(eventbus.Event{Type: eventbus.ReplySent, Data: r})
	m.log.Info("reply sent", logx.Int64("chat_id", r.TargetChatID), logx.String("mode", string(r.Mode)))
	return true
}

// Cancel discards a pending reply. It returns false when none was open.
func (m *Machine) Cancel(ctx context.Context) bool {
	if !m.ops.ClearReply() {
		return false
	}
	m.notify(ctx, format.ReplyCancelled)
	return true
}

// finish clears the slot before telling the operator.
func (m *Machine) finish(ctx context.Context, text string) {
	m.ops.ClearReply()
	m.notify(ctx, text)
}

func (m *Machine) notify(ctx context.Context, text string) {
	if _, err := m.out.SendText(ctx, m.operatorID, text, html); err != nil {
		m.log.Warn("operator notice failed", logx.Err(err))
	}
}

func (m *Machine) fail(r session.Reply, err error) {
	m.log.Error("reply failed", logx.Int64("chat_id", r.TargetChatID), logx.Err(err))
	m.bus.Publish(eventbus.Event{Type: eventbus.ReplyFailed, Data: r})
}
