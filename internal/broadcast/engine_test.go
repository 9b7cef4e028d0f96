package broadcast

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"relaybot/internal/format"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/session"
	"relaybot/internal/storage"
	"relaybot/internal/storage/storagetest"
	"relaybot/internal/transport"
	"relaybot/internal/transport/transporttest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

const operatorID int64 = 1000

var errBlocked = errors.New("telegram: Forbidden: bot was blocked by the user (403)")

type fixture struct {
	store *storagetest.Faulty
	out   *transporttest.Recorder
	ops   *session.Operator
	e     *Engine
}

func newFixture(t *testing.T, users int, pol Policy, spawn Spawner) *fixture {
	t.Helper()
	f := &fixture{
		store: storagetest.NewFaulty(storagetest.Open(t)),
		out:   transporttest.New(),
		ops:   session.New(),
	}
	for i := 1; i <= users; i++ {
		_, err := f.store.UpsertUser(context.Background(), storage.Profile{ExternalID: int64(100 + i), FirstName: "u"})
		require.NoError(t, err)
	}
	f.e = New(Options{Store: f.store, Adapter: f.out, Session: f.ops, OperatorID: operatorID, Policy: pol, Spawner: spawn})
	return f
}

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.ProgressPause = time.Millisecond
	return p
}

func operatorText(text string) *transport.Message {
	return &transport.Message{ChatID: operatorID, From: transport.Sender{ID: operatorID}, Text: text}
}

func countPrefix(sent []transporttest.Sent, prefix string) int {
	n := 0
	for _, s := range sent {
		if strings.HasPrefix(s.Text, prefix) {
			n++
		}
	}
	return n
}

func TestStartWithoutRecipientsStaysIdle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 0, fastPolicy(), nil)

	require.NoError(t, f.e.Start(ctx))
	assert.False(t, f.e.Collecting())
	require.Len(t, f.out.SentTo(operatorID), 1)
	assert.Equal(t, format.NoRecipients, f.out.SentTo(operatorID)[0].Text)

	list, err := f.store.ListBroadcasts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSeventeenRecipientsOneBlocked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sup := supervisor.New(ctx)
	f := newFixture(t, 17, fastPolicy(), sup)
	f.out.FailChat(105, errBlocked)

	require.NoError(t, f.e.Start(ctx))
	require.True(t, f.e.Collect(ctx, operatorText("Big news")))
	d, ok := f.ops.Draft()
	require.True(t, ok)
	assert.Equal(t, session.Confirming, d.Phase)
	assert.Equal(t, 17, d.Recipients)

	require.NoError(t, f.e.Confirm(ctx))
	assert.False(t, f.e.Collecting(), "confirm consumes the draft")

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, sup.Wait(wctx))
	assert.False(t, f.ops.Sending())

	list, err := f.store.ListBroadcasts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 17, list[0].Target)
	assert.Equal(t, 16, list[0].Sent)
	assert.Equal(t, 1, list[0].Failed)

	active, err := f.store.ListActiveUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 16)
	for _, u := range active {
		assert.NotEqual(t, int64(105), u.ExternalID)
	}

	toOp := f.out.SentTo(operatorID)
	assert.Equal(t, 1, countPrefix(toOp, "📤 Broadcasting to 17 users"))
	assert.Equal(t, 1, countPrefix(toOp, "📤 Progress:"))
	assert.Equal(t, 1, countPrefix(toOp, "📤 Progress: 94% (16/17)"))
	report := toOp[len(toOp)-1].Text
	assert.Contains(t, report, "Successfully sent: 16")
	assert.Contains(t, report, "├ 105")

	st, err := f.store.GetAggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(16), st.BroadcastMessages)
	assert.Len(t, f.out.SentTo(101), 1)
	assert.Contains(t, f.out.SentTo(101)[0].Text, "Big news")
}

func TestTransientFailureKeepsUserActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 3, fastPolicy(), nil)
	f.out.FailChat(102, errors.New("telegram: Too Many Requests: retry after 5"))

	require.NoError(t, f.e.Start(ctx))
	f.e.Collect(ctx, operatorText("hi"))
	require.NoError(t, f.e.Confirm(ctx))

	active, err := f.store.ListActiveUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestProgressCadence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pol := fastPolicy()
	pol.ProgressEvery = 2
	f := newFixture(t, 5, pol, nil)

	res, err := f.e.Run(ctx, session.Draft{Phase: session.Confirming, Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Sent)
	assert.Equal(t, res.Target, res.Sent+res.Failed)

	toOp := f.out.SentTo(operatorID)
	assert.Equal(t, 2, countPrefix(toOp, "📤 Progress:"))
	assert.Equal(t, 1, countPrefix(toOp, "📤 Progress: 40% (2/5)"))
	assert.Equal(t, 1, countPrefix(toOp, "📤 Progress: 80% (4/5)"))
}

func TestFailureListIsCapped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pol := fastPolicy()
	pol.FailureSample = 1
	pol.FailureCap = 2
	f := newFixture(t, 4, pol, nil)
	for i := int64(101); i <= 104; i++ {
		f.out.FailChat(i, errors.New("network down"))
	}

	res, err := f.e.Run(ctx, session.Draft{Phase: session.Confirming, Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Failed)
	assert.Equal(t, []int64{101, 102}, res.Failures)

	toOp := f.out.SentTo(operatorID)
	assert.Contains(t, toOp[len(toOp)-1].Text, "...and 3 more")
}

func TestPhotoBroadcast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 2, fastPolicy(), nil)

	require.NoError(t, f.e.Start(ctx))
	require.True(t, f.e.Collect(ctx, &transport.Message{From: transport.Sender{ID: operatorID}, PhotoFileID: "pic", Caption: "sale"}))
	preview := f.out.SentTo(operatorID)
	assert.Equal(t, "pic", preview[len(preview)-1].FileID)

	require.NoError(t, f.e.Confirm(ctx))
	got := f.out.SentTo(101)
	require.Len(t, got, 1)
	assert.Equal(t, "pic", got[0].FileID)
	assert.Contains(t, got[0].Text, "sale")
}

func TestPhotoCaptionOverLimitStaysCollecting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 2, fastPolicy(), nil)

	require.NoError(t, f.e.Start(ctx))
	long := &transport.Message{From: transport.Sender{ID: operatorID}, PhotoFileID: "pic", Caption: strings.Repeat("x", 1000)}
	require.True(t, f.e.Collect(ctx, long))

	d, ok := f.ops.Draft()
	require.True(t, ok)
	assert.Equal(t, session.Collecting, d.Phase)
	toOp := f.out.SentTo(operatorID)
	assert.Contains(t, toOp[len(toOp)-1].Text, "Caption too long")

	// A shorter caption moves on to confirmation.
	require.True(t, f.e.Collect(ctx, &transport.Message{From: transport.Sender{ID: operatorID}, PhotoFileID: "pic", Caption: "sale"}))
	d, _ = f.ops.Draft()
	assert.Equal(t, session.Confirming, d.Phase)

	// Long text bodies are split by the adapter, so they are accepted.
	assert.True(t, f.e.Cancel(ctx))
	require.NoError(t, f.e.Start(ctx))
	require.True(t, f.e.Collect(ctx, operatorText(strings.Repeat("y", 3000))))
	d, _ = f.ops.Draft()
	assert.Equal(t, session.Confirming, d.Phase)
	assert.Empty(t, f.out.SentTo(101))
}

func TestCancelAndConfirmEdges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 2, fastPolicy(), nil)

	assert.False(t, f.e.Cancel(ctx))
	require.NoError(t, f.e.Confirm(ctx))
	assert.Equal(t, format.NothingToConfirm, f.out.SentTo(operatorID)[0].Text)

	require.NoError(t, f.e.Start(ctx))
	require.NoError(t, f.e.Confirm(ctx), "collecting drafts cannot be confirmed")
	assert.True(t, f.e.Collecting())
	assert.True(t, f.e.Cancel(ctx))
	assert.False(t, f.e.Collecting())

	require.NoError(t, f.e.Start(ctx))
	f.e.Collect(ctx, operatorText("hello"))
	assert.True(t, f.e.Collect(ctx, operatorText("ignored while confirming")))
	d, _ := f.ops.Draft()
	assert.Equal(t, "hello", d.Body)
	assert.True(t, f.e.Cancel(ctx))
	assert.Empty(t, f.out.SentTo(101))
}

func TestStartWhileSendingIsBusy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 2, fastPolicy(), nil)
	require.True(t, f.ops.BeginSending())

	require.NoError(t, f.e.Start(ctx))
	assert.False(t, f.e.Collecting())
	assert.Equal(t, format.BroadcastBusy, f.out.SentTo(operatorID)[0].Text)
}

func TestCreateFailureAbortsBeforeSending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 2, fastPolicy(), nil)
	f.store.Fail("CreateBroadcast", true)

	require.NoError(t, f.e.Start(ctx))
	f.e.Collect(ctx, operatorText("hello"))
	require.NoError(t, f.e.Confirm(ctx))

	assert.False(t, f.ops.Sending())
	assert.Empty(t, f.out.SentTo(101))
	toOp := f.out.SentTo(operatorID)
	assert.Contains(t, toOp[len(toOp)-1].Text, "Broadcast failed")
}

func TestStatsUpdateFailureSkipsReport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 2, fastPolicy(), nil)
	f.store.Fail("UpdateBroadcastStats", true)

	res, err := f.e.Run(ctx, session.Draft{Phase: session.Confirming, Body: "x"})
	require.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, 2, res.Sent)
	assert.Len(t, f.out.SentTo(102), 1, "sends already issued stand")

	toOp := f.out.SentTo(operatorID)
	assert.Equal(t, 0, countPrefix(toOp, "<b>✅ Broadcast Complete"))
	assert.Contains(t, toOp[len(toOp)-1].Text, "Broadcast failed")
}
