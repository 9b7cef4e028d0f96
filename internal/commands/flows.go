package commands

import (
	"context"

	"relaybot/internal/relay"
	kit "relaybot/internal/transport"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
)

// Flows routes non-command traffic. Operator input goes to the broadcast
// draft first, then to a pending reply; anything unclaimed is dropped.
func (s *Set) Flows() router.Flows {
	return router.Flows{
		Inbound: func(ctx context.Context, req *router.Request) error {
			return s.d.Relay.HandleInbound(ctx, req.Update.Message)
		},
		OperatorInput: s.operatorInput,
		Callback:      s.callback,
		Touch: func(ctx context.Context, from kit.Sender) error {
			_, err := s.d.Relay.TouchUser(ctx, from)
			return err
		},
	}
}

func (s *Set) operatorInput(ctx context.Context, req *router.Request) error {
	msg := req.Update.Message
	if s.d.Broadcast.Collect(ctx, msg) {
		return nil
	}
	if s.d.Reply.Handle(ctx, msg) {
		return nil
	}
	req.Logger.Debug("operator input dropped", logx.Bool("photo", msg != nil && msg.PhotoFileID != ""))
	return nil
}

func (s *Set) callback(ctx context.Context, req *router.Request) error {
	cb := req.Update.Callback
	if cb == nil {
		return nil
	}
	if !relay.IsAction(cb.Data) {
		// Clear the client's loading state for buttons we do not own.
		return req.Adapter.AnswerCallback(ctx, cb.ID, "")
	}
	return s.d.Relay.HandleReplyAction(ctx, cb)
}
