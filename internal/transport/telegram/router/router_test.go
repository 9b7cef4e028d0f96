package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/dedup"
	"relaybot/internal/format"
	kit "relaybot/internal/transport"
	"relaybot/internal/transport/transporttest"
	logx "relaybot/pkg/logx"
)

const operatorID int64 = 1000

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func (r *recorder) handler(tag string) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		r.add(tag + ":" + req.Update.Message.Text)
		return nil
	}
}

func startManager(t *testing.T) (*dedup.Memory, *transporttest.Recorder, *recorder, chan kit.Update) {
	t.Helper()
	out := transporttest.New()
	dd := dedup.NewMemory(time.Minute)
	m := NewManager(logx.Nop(), out, dd, Config{OperatorID: operatorID, Workers: 2, QueueSize: 64})
	rec := &recorder{}
	m.SetRegistry([]Command{
		{Name: "status", Aliases: []string{"s"}, Access: AccessOperator, Handle: func(ctx context.Context, req *Request) error {
			rec.add("status")
			return req.Reply(ctx, "ok")
		}},
		{Name: "start", Access: AccessEveryone, Handle: func(ctx context.Context, req *Request) error {
			rec.add("start:" + req.Arg(0))
			return nil
		}},
	}, Flows{
		Inbound:       rec.handler("inbound"),
		OperatorInput: rec.handler("operator"),
		Callback: func(ctx context.Context, req *Request) error {
			rec.add("callback:" + req.Update.Callback.Data)
			return nil
		},
		Touch: func(ctx context.Context, s kit.Sender) error {
			rec.add("touch")
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return dd, out, rec, updates
}

func text(id, from int64, s string) kit.Update {
	return kit.Update{ID: id, Kind: kit.UpdateText, Message: &kit.Message{ChatID: from, From: kit.Sender{ID: from}, Text: s}}
}

func command(id, from int64, name string, args ...string) kit.Update {
	return kit.Update{
		ID:      id,
		Kind:    kit.UpdateCommand,
		Message: &kit.Message{ChatID: from, From: kit.Sender{ID: from}, Text: "/" + name},
		Command: &kit.Command{Name: name, Args: args},
	}
}

func waitFor(t *testing.T, rec *recorder, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(rec.list()) >= n }, 2*time.Second, 5*time.Millisecond)
	return rec.list()
}

func TestTextRoutesBySender(t *testing.T) {
	t.Parallel()
	_, _, rec, updates := startManager(t)
	updates <- text(1, 42, "hello")
	updates <- text(2, operatorID, "reply")

	got := waitFor(t, rec, 2)
	assert.ElementsMatch(t, []string{"inbound:hello", "operator:reply"}, got)
}

func TestOperatorCommandAccess(t *testing.T) {
	t.Parallel()
	_, out, rec, updates := startManager(t)

	updates <- command(1, 42, "status")
	got := waitFor(t, rec, 1)
	assert.Equal(t, []string{"touch"}, got)
	require.Eventually(t, func() bool { return len(out.SentTo(42)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, format.OperatorOnly, out.SentTo(42)[0].Text)

	updates <- command(2, operatorID, "s")
	got = waitFor(t, rec, 2)
	assert.Equal(t, "status", got[1])
}

func TestUnknownCommands(t *testing.T) {
	t.Parallel()
	_, out, rec, updates := startManager(t)

	updates <- command(1, 42, "nope")
	waitFor(t, rec, 1)
	assert.Empty(t, out.SentTo(42), "unknown end-user commands only refresh the user")

	updates <- command(2, operatorID, "nope")
	require.Eventually(t, func() bool { return len(out.SentTo(operatorID)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, format.UnknownCommand, out.SentTo(operatorID)[0].Text)
}

func TestDuplicateUpdatesAreSkipped(t *testing.T) {
	t.Parallel()
	dd, _, rec, updates := startManager(t)

	updates <- command(7, 42, "start", "a")
	waitFor(t, rec, 1)
	require.Eventually(t, func() bool {
		dup, _ := dd.IsDuplicate(context.Background(), "7")
		return dup
	}, time.Second, 5*time.Millisecond)
	updates <- command(7, 42, "start", "a")
	updates <- command(8, 42, "start", "b")
	got := waitFor(t, rec, 2)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"start:a", "start:b"}, rec.list())
	assert.Len(t, got, 2)
}

func TestOperatorQueueKeepsOrder(t *testing.T) {
	t.Parallel()
	_, _, rec, updates := startManager(t)

	want := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		s := string(rune('a' + i%26))
		updates <- text(int64(100+i), operatorID, s)
		want = append(want, "operator:"+s)
	}
	assert.Equal(t, want, waitFor(t, rec, 30))
}

func TestCallbacksAreRouted(t *testing.T) {
	t.Parallel()
	_, _, rec, updates := startManager(t)
	updates <- kit.Update{ID: 1, Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c", From: kit.Sender{ID: operatorID}, ChatID: operatorID, Data: "text_42_7"}}
	assert.Equal(t, []string{"callback:text_42_7"}, waitFor(t, rec, 1))
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"History":     "history",
		"a-b c":       "a_b_c",
		"__x__":       "x",
		"9lives":      "cmd_9lives",
		"ünïcode":     "ncode",
		"":            "",
		"broadcasts ": "broadcasts",
	}
	for in, want := range tests {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitizeTelegramCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildMenuCommandsOrdersPublicFirst(t *testing.T) {
	t.Parallel()
	h := func(context.Context, *Request) error { return nil }
	menu := buildMenuCommands([]Command{
		{Name: "status", Description: "Status", Access: AccessOperator, Handle: h},
		{Name: "start", Description: "Start", Handle: h},
		{Name: "broadcast", Description: "Send", Access: AccessOperator, Handle: h},
		{Name: "nohandler"},
	})
	require.Len(t, menu, 3)
	assert.Equal(t, "start", menu[0].Command)
	assert.Equal(t, "broadcast", menu[1].Command)
	assert.Equal(t, "🔒 Send", menu[1].Description)
	assert.Equal(t, "status", menu[2].Command)
}
