package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtsup "relaybot/internal/runtime/supervisor"
	logx "relaybot/pkg/logx"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthReportsDatabase(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Deps{Store: pinger{}, Sending: func() bool { return true }}, logx.Nop())

	rec := get(t, s.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "healthy", rep.Status)
	assert.Equal(t, "ok", rep.Database)
	assert.Empty(t, rep.Dedup)
	assert.True(t, rep.Sending)
	assert.Positive(t, rep.Goroutines)
	assert.Empty(t, rep.Runtimes)
}

func TestHealthIncludesRuntimes(t *testing.T) {
	t.Parallel()
	runtimes := func() map[string]rtsup.Counters {
		return map[string]rtsup.Counters{"telegram.router": {Active: 5, Started: 5}}
	}
	s := New(Config{}, Deps{Store: pinger{}, Runtimes: runtimes}, logx.Nop())

	rec := get(t, s.Handler(), http.MethodGet, "/health")
	assert.Contains(t, rec.Body.String(), `"telegram.router":{"active":5,"started":5,"panics":0}`)
}

func TestHealthDegradesWhenDatabaseDown(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Deps{Store: pinger{err: errors.New("gone")}, Dedup: pinger{}}, logx.Nop())

	rec := get(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"down"`)
	assert.Contains(t, rec.Body.String(), `"dedup":"ok"`)
}

func TestOptionalRoutes(t *testing.T) {
	t.Parallel()
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte("hook:" + string(b)))
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("m")) })

	bare := New(Config{}, Deps{}, logx.Nop()).Handler()
	assert.Equal(t, http.StatusNotFound, get(t, bare, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, bare, http.MethodPost, "/webhook").Code)

	full := New(Config{}, Deps{Metrics: metrics, Webhook: hook, WebhookURL: "https://bot.example.com/tg/hook"}, logx.Nop()).Handler()
	assert.Equal(t, "m", get(t, full, http.MethodGet, "/metrics").Body.String())

	rec := httptest.NewRecorder()
	full.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tg/hook", strings.NewReader("{}")))
	assert.Equal(t, "hook:{}", rec.Body.String())
	assert.Equal(t, http.StatusMethodNotAllowed, get(t, full, http.MethodGet, "/tg/hook").Code)
}

func TestWebhookPath(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"https://x.example.com/webhook/abc": "/webhook/abc",
		"https://x.example.com":             "/webhook",
		"https://x.example.com/":            "/webhook",
		"":                                  "/webhook",
	}
	for in, want := range tests {
		assert.Equal(t, want, WebhookPath(in), in)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	s.Start(context.Background())
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}
