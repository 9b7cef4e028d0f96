package transport

import (
	"context"
	"strings"
)

// UpdateKind tags the decoded inbound event. Adapters decode platform
// updates exactly once into one of these kinds.
type UpdateKind string

const (
	UpdateText     UpdateKind = "text"
	UpdatePhoto    UpdateKind = "photo"
	UpdateCallback UpdateKind = "callback"
	UpdateCommand  UpdateKind = "command"
)

// Update is a closed tagged variant:
//   - text, photo: Message is set
//   - command: Message and Command are set
//   - callback: Callback is set
type Update struct {
	// ID is the platform update id. Used as the redelivery dedup key.
	ID       int64
	Kind     UpdateKind
	Message  *Message
	Command  *Command
	Callback *Callback
}

// From returns the sender of the update regardless of kind.
func (u Update) From() Sender {
	switch {
	case u.Callback != nil:
		return u.Callback.From
	case u.Message != nil:
		return u.Message.From
	default:
		return Sender{}
	}
}

// ChatID returns the chat the update originated from.
func (u Update) ChatID() int64 {
	switch {
	case u.Callback != nil:
		return u.Callback.ChatID
	case u.Message != nil:
		return u.Message.ChatID
	default:
		return 0
	}
}

type Sender struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// DisplayName joins first and last name, falling back to the handle.
func (s Sender) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
	if name != "" {
		return name
	}
	if s.Username != "" {
		return "@" + s.Username
	}
	return "Unknown"
}

type Message struct {
	ID     int
	ChatID int64
	From   Sender
	Text   string

	// Photo fields. PhotoFileID references the highest-resolution variant.
	Caption     string
	PhotoFileID string
}

// Body returns the text for text messages and the caption for photos.
func (m *Message) Body() string {
	if m == nil {
		return ""
	}
	if m.PhotoFileID != "" {
		return m.Caption
	}
	return m.Text
}

type Command struct {
	Name string // lower-case, without the leading slash or @botname
	Args []string
}

// Arg returns the i-th argument or "".
func (c *Command) Arg(i int) string {
	if c == nil || i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

type Callback struct {
	ID        string
	From      Sender
	ChatID    int64
	MessageID int
	Data      string
}

// Button is an inline action attached to an outbound message.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Keyboard is rendered as an inline keyboard; one slice per row.
	Keyboard [][]Button
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

const ParseModeHTML = "HTML"

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
