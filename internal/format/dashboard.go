package format

import (
	"fmt"
	"strings"
	"time"

	"relaybot/internal/storage"
)

const (
	NoMessages   = "📭 No messages yet."
	NoBroadcasts = "📭 No broadcasts yet."
)

func roleIcon(r storage.Role) string {
	switch r {
	case storage.RoleCustomer:
		return "👤"
	case storage.RoleOperator:
		return "👑"
	default:
		return "📢"
	}
}

func senderName(m storage.RecentMessage) string {
	if m.FirstName != "" {
		return m.FirstName
	}
	return fmt.Sprintf("User %d", m.UserID)
}

func clock(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("03:04 PM")
}

// Runtime carries process facts for the status dashboard.
type Runtime struct {
	Uptime     time.Duration
	MemoryRSS  uint64 // bytes; 0 when unknown
	DatabaseOK bool
	Sending    bool
}

func Status(rt Runtime, st storage.Stats, recent []storage.RecentMessage, loc *time.Location) H {
	db := "✅ Connected"
	if !rt.DatabaseOK {
		db = "❌ Unavailable"
	}
	up := rt.Uptime.Truncate(time.Second)
	h := int(up.Hours())
	m := int(up.Minutes()) % 60
	s := int(up.Seconds()) % 60
	mem := "n/a"
	if rt.MemoryRSS > 0 {
		mem = fmt.Sprintf("%dMB", rt.MemoryRSS/1024/1024)
	}

	var activity []H
	for _, msg := range recent {
		activity = append(activity, H(roleIcon(msg.Role)+" ")+B(clock(msg.CreatedAt, loc))+" - "+Esc(senderName(msg)))
	}
	if len(activity) == 0 {
		activity = append(activity, "No recent messages")
	}

	lines := []H{
		B("🤖 Bot Status Dashboard"),
		"",
		B("🟢 System Status"),
		"├ Bot: ✅ Online",
		H("├ Database: " + db),
		H(fmt.Sprintf("├ Uptime: %dh %dm %ds", h, m, s)),
		H("└ Memory: " + mem),
	}
	if rt.Sending {
		lines = append(lines, "📤 A broadcast is in progress")
	}
	lines = append(lines,
		"",
		B("📊 Quick Stats"),
		H(fmt.Sprintf("├ Users: %d", st.TotalUsers)),
		H(fmt.Sprintf("├ Messages: %d", st.TotalMessages)),
		H(fmt.Sprintf("└ Today: %d messages", st.Messages24h)),
		"",
		B("⏰ Recent Activity"),
	)
	lines = append(lines, activity...)
	lines = append(lines, "", I("Use /stats for detailed statistics"))
	return Lines(lines...)
}

// History lists recent messages with a 40-character preview.
func History(msgs []storage.RecentMessage, loc *time.Location) H {
	if len(msgs) == 0 {
		return NoMessages
	}
	var b strings.Builder
	b.WriteString(B(fmt.Sprintf("📜 Last %d Messages", len(msgs))).String())
	b.WriteString("\n\n")
	for _, m := range msgs {
		content := m.Body
		if content == "" {
			content = "[" + string(m.Media) + "]"
		}
		b.WriteString(roleIcon(m.Role) + " ")
		b.WriteString(B(clock(m.CreatedAt, loc)).String())
		b.WriteString(" - " + Esc(senderName(m)).String() + "\n")
		b.WriteString(Esc(Truncate(content, 40)).String())
		b.WriteString("\n\n")
	}
	return H(strings.TrimRight(b.String(), "\n"))
}

func successRate(sent, target int64) int64 {
	if target <= 0 {
		return 0
	}
	return (sent*100 + target/2) / target
}

// Broadcasts lists past broadcasts plus a totals block.
func Broadcasts(list []storage.Broadcast, loc *time.Location) H {
	if len(list) == 0 {
		return NoBroadcasts
	}
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	var totalTarget, sent, failed int64
	b.WriteString(B(fmt.Sprintf("📢 Broadcast History (Last %d)", len(list))).String())
	b.WriteString("\n\n")
	for i, bc := range list {
		preview := bc.Body
		if preview == "" {
			preview = "[" + string(bc.Media) + "]"
		}
		when := bc.CreatedAt.In(loc)
		b.WriteString(B(fmt.Sprintf("%d. %s %s", i+1, when.Format("Jan 2"), when.Format("03:04 PM"))).String() + "\n")
		b.WriteString("├ Message: " + Esc(Truncate(preview, 30)).String() + "\n")
		fmt.Fprintf(&b, "├ Target: %d users\n", bc.Target)
		fmt.Fprintf(&b, "├ Sent: %d ✓\n", bc.Sent)
		fmt.Fprintf(&b, "├ Failed: %d ✗\n", bc.Failed)
		fmt.Fprintf(&b, "└ Success: %d%%\n\n", successRate(int64(bc.Sent), int64(bc.Target)))
		totalTarget += int64(bc.Target)
		sent += int64(bc.Sent)
		failed += int64(bc.Failed)
	}
	b.WriteString(B("📈 Summary").String() + "\n")
	fmt.Fprintf(&b, "├ Total broadcasts: %d\n", len(list))
	fmt.Fprintf(&b, "├ Total users targeted: %d\n", totalTarget)
	fmt.Fprintf(&b, "├ Total messages sent: %d\n", sent)
	fmt.Fprintf(&b, "├ Total failed: %d\n", failed)
	fmt.Fprintf(&b, "└ Overall success rate: %d%%\n\n", successRate(sent, totalTarget))
	b.WriteString(I("💡 Use /broadcast to send a new broadcast").String())
	return H(b.String())
}

func Stats(st storage.Stats) H {
	return Lines(
		B("📊 Detailed Statistics"),
		"",
		B("👥 Users"),
		H(fmt.Sprintf("├ Total: %d", st.TotalUsers)),
		H(fmt.Sprintf("├ Active: %d", st.ActiveUsers)),
		H(fmt.Sprintf("├ New (7 days): %d", st.NewUsers7d)),
		H(fmt.Sprintf("└ New (30 days): %d", st.NewUsers30d)),
		"",
		B("💬 Messages"),
		H(fmt.Sprintf("├ Total: %d", st.TotalMessages)),
		H(fmt.Sprintf("├ From customers: %d", st.CustomerMessages)),
		H(fmt.Sprintf("├ Replies: %d", st.OperatorMessages)),
		H(fmt.Sprintf("├ Replied to: %d", st.RepliedMessages)),
		H(fmt.Sprintf("└ Last 24h: %d", st.Messages24h)),
		"",
		B("📢 Broadcasts"),
		H(fmt.Sprintf("├ Total: %d", st.TotalBroadcasts)),
		H(fmt.Sprintf("├ Recipients targeted: %d", st.BroadcastRecipients)),
		H(fmt.Sprintf("└ Delivered: %d", st.BroadcastDelivered)),
	)
}

// Digest is the scheduled summary sent to the operator.
func Digest(st storage.Stats) H {
	return Lines(
		B("🗓 Daily Digest"),
		"",
		H(fmt.Sprintf("👥 Users: %d (%d active, %d new this week)", st.TotalUsers, st.ActiveUsers, st.NewUsers7d)),
		H(fmt.Sprintf("💬 Messages in the last 24h: %d", st.Messages24h)),
		H(fmt.Sprintf("✅ Replied to: %d of %d customer messages", st.RepliedMessages, st.CustomerMessages)),
		H(fmt.Sprintf("📢 Broadcast deliveries: %d", st.BroadcastDelivered)),
	)
}

func OperatorPanel(st storage.Stats) H {
	return Lines(
		B("👑 Admin Panel"),
		"",
		B("🟢 Status"),
		"├ Database: Connected ✓",
		H(fmt.Sprintf("├ Users: %d", st.TotalUsers)),
		H(fmt.Sprintf("└ Messages: %d", st.TotalMessages)),
		"",
		B("📋 Admin Commands:"),
		"/status - Bot status dashboard",
		"/stats - Detailed statistics",
		"/broadcast - Send to all users",
		"/broadcasts - View broadcast history",
		"/history [n] - Recent messages (default: 10)",
		"",
		I("💡 Tip: Use /history 20 to see last 20 messages"),
	)
}

func Welcome(firstName string) H {
	if firstName == "" {
		firstName = "there"
	}
	return Lines(
		"👋 Hello "+Esc(firstName)+"!",
		"",
		"Thank you for contacting our support team. We have received your message and will get back to you as soon as possible.",
		"",
		"In the meantime, feel free to send us any additional information or questions you may have.",
		"",
		"Best regards,",
		"Support Team",
	)
}

func Help() H {
	return Lines(
		B("🆘 Admin Help Guide"),
		"",
		B("📊 Monitoring Commands:"),
		"/status - Quick bot status dashboard",
		"/stats - Detailed statistics",
		"/history [n] - View recent messages",
		"/broadcasts [n] - View broadcast history",
		"",
		B("📢 Action Commands:"),
		"/broadcast - Send message to all users",
		"/confirm - Send the pending broadcast",
		"/cancel - Cancel a reply or broadcast",
		"",
		B("🔄 How to Reply:"),
		`1. Click "Text Reply" or "Image Reply" button`,
		"2. Type your message or send photo",
		"3. Bot will forward it to the customer",
		"",
		B("❓ Tips:"),
		"• Use /history 20 to see last 20 messages",
		"• Cancel any operation with /cancel",
		"• Broadcast supports both text and images",
	)
}
