package relay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"relaybot/internal/format"
	"relaybot/internal/session"
	"relaybot/internal/transport"
)

var ErrInvalidAction = errors.New("invalid reply action")

// EncodeAction renders the callback payload "mode_chatID_messageID".
func EncodeAction(mode session.ReplyMode, chatID, messageID int64) string {
	return string(mode) + "_" + strconv.FormatInt(chatID, 10) + "_" + strconv.FormatInt(messageID, 10)
}

// DecodeAction parses a payload produced by EncodeAction.
func DecodeAction(data string) (session.Reply, error) {
	parts := strings.Split(strings.TrimSpace(data), "_")
	if len(parts) != 3 {
		return session.Reply{}, fmt.Errorf("%w: %q", ErrInvalidAction, data)
	}
	mode := session.ReplyMode(parts[0])
	if mode != session.AwaitText && mode != session.AwaitImage {
		return session.Reply{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidAction, parts[0])
	}
	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || chatID == 0 {
		return session.Reply{}, fmt.Errorf("%w: bad chat id %q", ErrInvalidAction, parts[1])
	}
	msgID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || msgID < 0 {
		return session.Reply{}, fmt.Errorf("%w: bad message id %q", ErrInvalidAction, parts[2])
	}
	return session.Reply{Mode: mode, TargetChatID: chatID, MessageID: msgID}, nil
}

// IsAction reports whether callback data looks like a reply action.
func IsAction(data string) bool {
	return strings.HasPrefix(data, string(session.AwaitText)+"_") || strings.HasPrefix(data, string(session.AwaitImage)+"_")
}

// Buttons returns the two reply actions attached to an operator notification.
func Buttons(chatID, messageID int64) [][]transport.Button {
	return [][]transport.Button{{
		{Text: format.TextReplyButton, Data: EncodeAction(session.AwaitText, chatID, messageID)},
		{Text: format.ImageReplyButton, Data: EncodeAction(session.AwaitImage, chatID, messageID)},
	}}
}
