package logx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "relaybot/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	ids  []int64
}

func (c *captureSender) SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.msgs = append(c.msgs, text)
	c.ids = append(c.ids, chatID)
	c.mu.Unlock()
	return kit.MessageRef{ChatID: chatID}, nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// must not panic
	l.Info("hello", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"send failed","chat_id":42,"comp":"broadcast"}`)
	got := formatChatLine(line)
	if !strings.HasPrefix(got, "[WARN] send failed") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "- chat_id=42") || !strings.Contains(got, "- comp=broadcast") {
		t.Fatalf("missing fields: %q", got)
	}
	if strings.Index(got, "chat_id") > strings.Index(got, "comp") {
		t.Fatalf("fields should be sorted: %q", got)
	}

	raw := formatChatLine([]byte("  not json  "))
	if raw != "not json" {
		t.Fatalf("raw line = %q", raw)
	}
}

func TestChatSinkForwardsWarnings(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, ChatID: 99, MinLevel: "warn", RatePerSec: 50},
	}, sender)
	defer svc.Close()

	log.Info("ignored")
	log.Warn("forwarded", Int("n", 1))

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatalf("forwarded = %d, want 1", sender.count())
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.ids[0] != 99 || !strings.Contains(sender.msgs[0], "forwarded") {
		t.Fatalf("unexpected forward: %d %q", sender.ids[0], sender.msgs[0])
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		def  zerolog.Level
		want zerolog.Level
	}{
		{"warning", zerolog.InfoLevel, zerolog.WarnLevel},
		{" DEBUG ", zerolog.InfoLevel, zerolog.DebugLevel},
		{"trace", zerolog.InfoLevel, zerolog.TraceLevel},
		{"bogus", zerolog.ErrorLevel, zerolog.ErrorLevel},
		{"", zerolog.WarnLevel, zerolog.WarnLevel},
		{"disabled", zerolog.InfoLevel, zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := parseLevel(c.in, c.def); got != c.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestApplyReopensFileSink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}}, nil)
	defer svc.Close()
	log.Info("one")

	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}})
	log.Info("two")

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(a), `"message":"one"`) || strings.Contains(string(a), "two") {
		t.Fatalf("first file = %q", a)
	}
	if !strings.Contains(string(b), `"message":"two"`) || !strings.Contains(string(b), `"caller":"logging_test.go:`) {
		t.Fatalf("second file = %q", b)
	}
}
