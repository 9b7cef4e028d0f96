package format

import (
	"fmt"
	"strconv"
)

const (
	NoRecipients       = "❌ No active users in database."
	BroadcastBusy      = "⏳ A broadcast is already being sent. Please wait for the report."
	NothingToConfirm   = "❌ No broadcast to confirm. Use /broadcast to start."
	BroadcastNeedsBody = "Send a text message or a photo for the broadcast, or /cancel."
)

func BroadcastStart(active int) H {
	return Lines(
		B("📢 New Broadcast"),
		"",
		H(fmt.Sprintf("Active users: %d", active)),
		"",
		"Send your message (text or photo):",
		I("Type /cancel to cancel"),
		"",
		I("💡 Use /broadcasts to see broadcast history"),
	)
}

// BroadcastPreview echoes the draft and asks for confirmation.
func BroadcastPreview(photo bool, body string, recipients int) H {
	var what H
	if photo {
		kind := "Photo"
		if body != "" {
			kind += " with caption"
		}
		what = H("Type: " + kind)
	} else {
		what = `Message: "` + Esc(Truncate(body, 80)) + `"`
	}
	return Lines(
		B("📢 Confirm Broadcast"),
		"",
		what,
		"",
		H(fmt.Sprintf("Recipients: %d users", recipients)),
		"",
		"Type /confirm to send",
		"Type /cancel to cancel",
	)
}

func BroadcastSending(total int) H {
	return H(fmt.Sprintf("📤 Broadcasting to %d users...\n\n⏳ This may take a moment.", total))
}

// BroadcastProgress renders "📤 Progress: P% (i/N)".
func BroadcastProgress(index, total int) H {
	pct := 0
	if total > 0 {
		pct = index * 100 / total
	}
	return H(fmt.Sprintf("📤 Progress: %d%% (%d/%d)", pct, index, total))
}

// Announcement is the body every recipient receives. Empty body renders
// header and footer only (photo without caption).
func Announcement(body string) H {
	if body == "" {
		return B("📢 Announcement") + "\n\n" + I("From Support Team")
	}
	return B("📢 Announcement") + "\n\n" + Esc(body) + "\n\n" + I("From Support Team")
}

// CaptionTooLong asks for a shorter broadcast caption. n is the length the
// announcement would have.
func CaptionTooLong(n int) H {
	return H(fmt.Sprintf("❌ Caption too long (%d/%d characters). Send a shorter caption or /cancel.", n, CaptionLimit))
}

// Report is the final fan-out summary.
type Report struct {
	Target   int
	Sent     int
	Failed   int
	Failures []int64 // recorded identities, possibly capped
	Sample   int     // how many identities to list
}

func BroadcastReport(r Report) H {
	out := Lines(
		B("✅ Broadcast Complete"),
		"",
		B("📊 Summary"),
		H(fmt.Sprintf("├ Total users: %d", r.Target)),
		H(fmt.Sprintf("├ Successfully sent: %d", r.Sent)),
		H(fmt.Sprintf("└ Failed: %d", r.Failed)),
		"",
	)
	if r.Failed > 0 && len(r.Failures) > 0 {
		sample := r.Sample
		if sample <= 0 {
			sample = 5
		}
		shown := r.Failures
		if len(shown) > sample {
			shown = shown[:sample]
		}
		out += "\n" + B(fmt.Sprintf("📝 Failed Users (first %d):", sample)) + "\n"
		for _, id := range shown {
			out += "├ " + H(strconv.FormatInt(id, 10)) + "\n"
		}
		if rest := r.Failed - len(shown); rest > 0 {
			out += H(fmt.Sprintf("└ ...and %d more\n", rest))
		}
	}
	return out + "\n" + I("Saved to database")
}

func BroadcastAborted(err error) H {
	return "❌ Broadcast failed: " + Esc(err.Error())
}
