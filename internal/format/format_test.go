package format

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"relaybot/internal/storage"
)

func TestEscAndTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, H("a &lt;b&gt; &amp; c"), Esc("a <b> & c"))
	assert.Equal(t, H("<b>x &lt; y</b>"), B("x < y"))
	assert.Equal(t, "héllo", Truncate("héllo", 5))
	assert.Equal(t, "hé...", Truncate("héllo", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestVisibleLen(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 3, VisibleLen("<b>a&amp;b</b>"))
	assert.Equal(t, 5, VisibleLen("héllo"))
	assert.Equal(t, 0, VisibleLen(""))

	long := strings.Repeat("x", 1000)
	assert.Greater(t, VisibleLen(Announcement(long)), CaptionLimit)
	assert.LessOrEqual(t, VisibleLen(Announcement(strings.Repeat("x", 900))), CaptionLimit)
	assert.Contains(t, CaptionTooLong(1040).String(), "1040/1024")
}

func TestOperatorNotification(t *testing.T) {
	t.Parallel()
	u := storage.User{ExternalID: 42, FirstName: "Ann", LastName: "Lee"}

	text := OperatorNotification(Inbound{User: u, Text: "hi <there>"}).String()
	assert.Contains(t, text, "New Message from Ann Lee")
	assert.Contains(t, text, "@no_username")
	assert.Contains(t, text, "Telegram ID: 42")
	assert.Contains(t, text, "hi &lt;there&gt;")

	photo := OperatorNotification(Inbound{User: u, Photo: true}).String()
	assert.Contains(t, photo, "New Image from Ann Lee")
	assert.Contains(t, photo, "Caption: (none)")
}

func TestReplyTexts(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Ready for image...", ReplyReady(true))
	assert.Equal(t, "Ready for text message...", ReplyReady(false))
	assert.Equal(t, H("💬 From Support Team"), CustomerImageCaption(""))
	assert.Equal(t, H("<b>💬 From Support:</b>\n\nok"), CustomerImageCaption("ok"))
	assert.Contains(t, Failed(errors.New("boom")).String(), "boom")
	assert.Equal(t, H(GenericFailure), Failed(nil))
}

func TestBroadcastReport(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		report   Report
		contains []string
		absent   []string
	}{
		{
			name:     "all delivered",
			report:   Report{Target: 3, Sent: 3},
			contains: []string{"Total users: 3", "Successfully sent: 3", "Failed: 0"},
			absent:   []string{"Failed Users"},
		},
		{
			name:     "one failure",
			report:   Report{Target: 17, Sent: 16, Failed: 1, Failures: []int64{505}, Sample: 5},
			contains: []string{"Successfully sent: 16", "Failed: 1", "├ 505"},
			absent:   []string{"more"},
		},
		{
			name:     "sample cut",
			report:   Report{Target: 9, Sent: 2, Failed: 7, Failures: []int64{1, 2, 3, 4, 5, 6, 7}, Sample: 5},
			contains: []string{"├ 5\n", "...and 2 more"},
			absent:   []string{"├ 6\n"},
		},
		{
			name:     "capped failures",
			report:   Report{Target: 20, Failed: 20, Failures: []int64{1, 2, 3}, Sample: 5},
			contains: []string{"...and 17 more"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := BroadcastReport(tt.report).String()
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestBroadcastProgressAndPreview(t *testing.T) {
	t.Parallel()
	assert.Equal(t, H("📤 Progress: 88% (15/17)"), BroadcastProgress(15, 17))
	assert.Equal(t, H("📤 Progress: 0% (0/0)"), BroadcastProgress(0, 0))
	assert.Contains(t, BroadcastPreview(true, "cap", 4).String(), "Photo with caption")
	assert.Contains(t, BroadcastPreview(false, "hello", 4).String(), `Message: "hello"`)
	assert.Contains(t, BroadcastPreview(false, "hello", 4).String(), "Recipients: 4 users")
	assert.True(t, strings.HasPrefix(Announcement("").String(), "<b>📢 Announcement</b>"))
}

func TestHistory(t *testing.T) {
	t.Parallel()
	assert.Equal(t, H(NoMessages), History(nil, time.UTC))

	at := time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC)
	msgs := []storage.RecentMessage{
		{Message: storage.Message{UserID: 1, Role: storage.RoleCustomer, Body: strings.Repeat("x", 50), CreatedAt: at}, FirstName: "Ann"},
		{Message: storage.Message{UserID: 2, Role: storage.RoleOperator, Media: storage.MediaPhoto, CreatedAt: at}},
	}
	got := History(msgs, time.UTC).String()
	assert.Contains(t, got, "📜 Last 2 Messages")
	assert.Contains(t, got, "👤 <b>02:05 PM</b> - Ann")
	assert.Contains(t, got, strings.Repeat("x", 40)+"...")
	assert.Contains(t, got, "👑 <b>02:05 PM</b> - User 2")
	assert.Contains(t, got, "[photo]")
}

func TestBroadcastsSummary(t *testing.T) {
	t.Parallel()
	assert.Equal(t, H(NoBroadcasts), Broadcasts(nil, time.UTC))

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	got := Broadcasts([]storage.Broadcast{
		{Body: "sale", Target: 4, Sent: 3, Failed: 1, CreatedAt: at},
		{Media: storage.MediaPhoto, Target: 6, Sent: 6, CreatedAt: at},
	}, time.UTC).String()
	assert.Contains(t, got, "📢 Broadcast History (Last 2)")
	assert.Contains(t, got, "1. Mar 1 09:00 AM")
	assert.Contains(t, got, "└ Success: 75%")
	assert.Contains(t, got, "Total users targeted: 10")
	assert.Contains(t, got, "Overall success rate: 90%")
}

func TestStatusDashboard(t *testing.T) {
	t.Parallel()
	rt := Runtime{Uptime: 3*time.Hour + 4*time.Minute + 5*time.Second, MemoryRSS: 64 << 20, DatabaseOK: true}
	got := Status(rt, storage.Stats{TotalUsers: 7, TotalMessages: 30, Messages24h: 2}, nil, time.UTC).String()
	assert.Contains(t, got, "Uptime: 3h 4m 5s")
	assert.Contains(t, got, "Memory: 64MB")
	assert.Contains(t, got, "Users: 7")
	assert.Contains(t, got, "No recent messages")

	down := Status(Runtime{}, storage.Stats{}, nil, time.UTC).String()
	assert.Contains(t, down, "❌ Unavailable")
	assert.Contains(t, down, "Memory: n/a")
}

func TestWelcomeEscapesName(t *testing.T) {
	t.Parallel()
	assert.Contains(t, Welcome("<Bob>").String(), "Hello &lt;Bob&gt;!")
	assert.Contains(t, Welcome("").String(), "Hello there!")
}
