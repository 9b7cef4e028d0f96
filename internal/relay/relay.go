// Package relay forwards end-user messages to the operator and opens reply
// sessions from the operator's button presses.
package relay

import (
	"context"
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

type Router struct {
	store      storage.Store
	out        transport.Adapter
	ops        *session.Operator
	operatorID int64
	bus        eventbus.Bus
	log        logx.Logger
}

func New(o Options) *Router {
	bus := o.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	log := o.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		store:      o.Store,
		out:        o.Adapter,
		ops:        o.Session,
		operatorID: o.OperatorID,
		bus:        bus,
		log:        log.With(logx.String("comp", "relay")),
	}
}

func (r *Router) IsOperator(id int64) bool { return id == r.operatorID }

func profileOf(s transport.Sender) storage.Profile {
	return storage.Profile{
		ExternalID:   s.ID,
		Username:     s.Username,
		FirstName:    s.FirstName,
		LastName:     s.LastName,
		LanguageCode: s.LanguageCode,
	}
}

// TouchUser refreshes the sender's user row without relaying anything.
func (r *Router) TouchUser(ctx context.Context, s transport.Sender) (storage.User, error) {
	u, err := r.store.UpsertUser(ctx, profileOf(s))
	if err != nil {
		return storage.User{}, fmt.Errorf("upsert user %d: %w", s.ID, err)
	}
	return u, nil
}

// HandleInbound relays one end-user text or photo. Operator messages are
// ignored here. When persistence fails nothing is sent and the error is
// returned so the update stays unprocessed.
func (r *Router) HandleInbound(ctx context.Context, m *transport.Message) error {
	if m == nil || r.IsOperator(m.From.ID) {
		return nil
	}
	photo := m.PhotoFileID != ""

	u, err := r.TouchUser(ctx, m.From)
	if err != nil {
		r.failed(m, err)
		return err
	}

	rec := storage.Message{
		UserID:        u.ID,
		ChatID:        m.ChatID,
		Body:          m.Body(),
		Role:          storage.RoleCustomer,
		Media:         storage.MediaText,
		ExternalMsgID: int64(m.ID),
	}
	if photo {
		rec.Media = storage.MediaPhoto
		rec.MediaRef = m.PhotoFileID
	}
	msgID, err := r.store.SaveMessage(ctx, rec)
	if err != nil {
		err = fmt.Errorf("save inbound message: %w", err)
		r.failed(m, err)
		return err
	}

	note := format.OperatorNotification(format.Inbound{User: u, Text: m.Text, Caption: m.Caption, Photo: photo})
	opt := &transport.SendOptions{ParseMode: transport.ParseModeHTML, Keyboard: Buttons(m.ChatID, msgID)}
	if photo {
		_, err = r.out.SendPhoto(ctx, r.operatorID, m.PhotoFileID, note.String(), opt)
	} else {
		_, err = r.out.SendText(ctx, r.operatorID, note.String(), opt)
	}
	if err != nil {
		err = fmt.Errorf("notify operator: %w", err)
		r.failed(m, err)
		return err
	}

	if err := r.store.MarkForwarded(ctx, msgID); err != nil {
		r.log.Warn("mark forwarded failed", logx.Int64("message_id", msgID), logx.Err(err))
	}

	ack := format.AckText
	if photo {
		ack = format.AckPhoto
	}
	if _, err := r.out.SendText(ctx, m.ChatID, ack, nil); err != nil {
		r.log.Warn("ack failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}

	media := string(storage.MediaText)
	if photo {
		media = string(storage.MediaPhoto)
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.InboundRelayed, Data: eventbus.Inbound{ChatID: m.ChatID, Media: media}})
	r.log.Debug("inbound relayed", logx.Int64("chat_id", m.ChatID), logx.Int64("message_id", msgID), logx.String("media", media))
	return nil
}

func (r *Router) failed(m *transport.Message, err error) {
	r.log.Error("inbound relay failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	r.bus.Publish(eventbus.Event{Type: eventbus.InboundFailed, Data: eventbus.Inbound{ChatID: m.ChatID}})
}

// HandleReplyAction opens or overwrites the operator's reply session.
func (r *Router) HandleReplyAction(ctx context.Context, cb *transport.Callback) error {
	if cb == nil {
		return nil
	}
	if !r.IsOperator(cb.From.ID) {
		r.log.Warn("reply action from non-operator", logx.Int64("user_id", cb.From.ID))
		return r.out.AnswerCallback(ctx, cb.ID, format.NotAuthorized)
	}

	reply, err := DecodeAction(cb.Data)
	if err != nil {
		_ = r.out.AnswerCallback(ctx, cb.ID, "❌ Invalid action")
		return err
	}
	r.ops.OpenReply(reply)

	image := reply.Mode == session.AwaitImage
	if _, err := r.out.SendText(ctx, r.operatorID, format.ReplyPrompt(image, reply.TargetChatID).String(),
		&transport.SendOptions{ParseMode: transport.ParseModeHTML}); err != nil {
		r.log.Warn("reply prompt failed", logx.Err(err))
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.ReplyOpened, Data: reply})
	return r.out.AnswerCallback(ctx, cb.ID, format.ReplyReady(image))
}
