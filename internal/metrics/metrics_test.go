package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/eventbus"
	logx "relaybot/pkg/logx"
)

func TestObserveCountsFlows(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())

	c.Observe(eventbus.Event{Type: eventbus.InboundRelayed, Data: eventbus.Inbound{ChatID: 1, Media: "photo"}})
	c.Observe(eventbus.Event{Type: eventbus.InboundRelayed, Data: eventbus.Inbound{ChatID: 1}})
	c.Observe(eventbus.Event{Type: eventbus.InboundFailed})
	c.Observe(eventbus.Event{Type: eventbus.ReplySent})
	c.Observe(eventbus.Event{Type: eventbus.ReplyFailed})
	c.Observe(eventbus.Event{Type: eventbus.BroadcastDelivery, Data: eventbus.Delivery{OK: true}})
	c.Observe(eventbus.Event{Type: eventbus.BroadcastDelivery, Data: eventbus.Delivery{Unreachable: true}})
	c.Observe(eventbus.Event{Type: eventbus.BroadcastDelivery, Data: eventbus.Delivery{}})
	c.Observe(eventbus.Event{Type: "unknown"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.inbound.WithLabelValues("photo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inbound.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inboundFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.replies.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("unreachable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("failed")))
}

func TestSendingGaugeFollowsRun(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())
	c.Observe(eventbus.Event{Type: eventbus.BroadcastStarted})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sending))
	c.Observe(eventbus.Event{Type: eventbus.BroadcastFinished, Data: eventbus.Finished{Duration: 3 * time.Second}})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.sending))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.broadcasts))
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	c := New(logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, bus)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.ReplyOpened})
		return testutil.ToFloat64(c.repliesOpened) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestHandlerExposesSeries(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())
	c.Observe(eventbus.Event{Type: eventbus.ReplySent})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `relaybot_replies_total{result="sent"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
