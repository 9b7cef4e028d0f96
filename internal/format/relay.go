package format

import (
	"fmt"
	"strconv"

	"relaybot/internal/storage"
)

const (
	AckText  = "✅ Message received! We'll respond soon."
	AckPhoto = "✅ Image received! We'll review it soon."

	NotAuthorized      = "❌ Not authorized"
	OperatorOnly       = "❌ Admin only command."
	UserNotFound       = "❌ User not found in database."
	ReplyCancelled     = "❌ Reply cancelled."
	BroadcastCancelled = "❌ Broadcast cancelled."
	NothingToCancel    = "Nothing to cancel."
	UnknownCommand     = "Unknown command. Try /help"
	GenericFailure     = "❌ Something went wrong. Please try again later."

	TextReplyButton  = "💬 Text Reply"
	ImageReplyButton = "🖼️ Image Reply"
)

// Inbound describes a customer event for the operator notification.
type Inbound struct {
	User    storage.User
	Text    string
	Caption string
	Photo   bool
}

// OperatorNotification renders the message the operator receives for each
// inbound customer event.
func OperatorNotification(in Inbound) H {
	handle := in.User.Username
	if handle == "" {
		handle = "no_username"
	}
	header := B("📨 New Message from " + in.User.DisplayName())
	content := "Message: " + Esc(in.Text)
	if in.Photo {
		header = B("📷 New Image from " + in.User.DisplayName())
		caption := in.Caption
		if caption == "" {
			caption = "(none)"
		}
		content = "Caption: " + Esc(caption)
	}
	return Lines(
		header,
		"",
		"User: @"+Esc(handle),
		"Telegram ID: "+H(strconv.FormatInt(in.User.ExternalID, 10)),
		content,
		"",
		"👇 Tap to reply",
	)
}

// ReplyPrompt asks the operator for the reply content.
func ReplyPrompt(image bool, chatID int64) H {
	return Lines(
		B("✍️ Reply to Customer"),
		"",
		H(fmt.Sprintf("Chat ID: %d", chatID)),
		H("Send your "+ReplyKind(image)+" now."),
		"Type /cancel to cancel.",
	)
}

// ReplyReady is the callback toast shown when a reply session opens.
func ReplyReady(image bool) string { return "Ready for " + ReplyKind(image) + "..." }

func ReplyKind(image bool) string {
	if image {
		return "image"
	}
	return "text message"
}

// CustomerReply wraps operator text for the customer.
func CustomerReply(text string) H {
	return B("💬 From Support:") + "\n\n" + Esc(text)
}

// CustomerImageCaption wraps an optional operator caption for the customer.
func CustomerImageCaption(caption string) H {
	if caption == "" {
		return "💬 From Support Team"
	}
	return CustomerReply(caption)
}

// ReplySent confirms a delivered reply to the operator.
func ReplySent(image bool, u storage.User) H {
	head := "✅ Reply sent!"
	if image {
		head = "✅ Image reply sent!"
	}
	return Lines(
		H(head),
		"",
		"User: "+Esc(u.DisplayName()),
		H(fmt.Sprintf("ID: %d", u.ExternalID)),
	)
}

// Failed reports an operation error to the operator.
func Failed(err error) H {
	if err == nil {
		return GenericFailure
	}
	return "❌ Failed: " + Esc(err.Error())
}
