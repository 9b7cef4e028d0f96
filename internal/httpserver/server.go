// Package httpserver serves health, metrics and the Telegram webhook.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"relaybot/internal/runtime/procinfo"
	rtsup "relaybot/internal/runtime/supervisor"
	logx "relaybot/pkg/logx"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// Pprof mounts net/http/pprof under /debug. Bind to loopback when set.
	Pprof bool
}

// Deps are the optional pieces the server exposes. Nil fields disable
// their routes or health checks.
type Deps struct {
	Store   Pinger
	Dedup   Pinger
	Metrics http.Handler
	// Webhook receives Telegram pushes at WebhookURL's path.
	Webhook    http.Handler
	WebhookURL string
	Sending    func() bool
	// Runtimes reports goroutine counters per supervised component.
	Runtimes func() map[string]rtsup.Counters
	Started  time.Time
	Version  string
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	deps Deps
	log  logx.Logger

	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}
	return &Service{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "http"))}
}

// WebhookPath returns the path component of a webhook url, defaulting to
// /webhook.
func WebhookPath(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/webhook"
	}
	return u.Path
}

// Handler builds the route tree.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "Bot is running",
			"version":   s.deps.Version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.Get("/health", s.health)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}
	if s.deps.Webhook != nil {
		r.Post(WebhookPath(s.deps.WebhookURL), s.deps.Webhook.ServeHTTP)
	}
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

type healthReport struct {
	Status     string  `json:"status"`
	Uptime     float64 `json:"uptime_seconds"`
	Database   string  `json:"database"`
	Dedup      string  `json:"dedup,omitempty"`
	Sending    bool    `json:"broadcast_sending"`
	MemoryRSS  uint64  `json:"memory_rss_bytes"`
	HostMemPct float64 `json:"host_memory_used_pct"`
	Goroutines int     `json:"goroutines"`
	Timestamp  string  `json:"timestamp"`

	Runtimes map[string]rtsup.Counters `json:"runtimes,omitempty"`
}

func check(ctx context.Context, p Pinger) string {
	if p == nil {
		return ""
	}
	if err := p.Ping(ctx); err != nil {
		return "down"
	}
	return "ok"
}

func (s *Service) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	snap := procinfo.Read(ctx)
	rep := healthReport{
		Status:     "healthy",
		Uptime:     time.Since(s.deps.Started).Seconds(),
		Database:   check(ctx, s.deps.Store),
		Dedup:      check(ctx, s.deps.Dedup),
		MemoryRSS:  snap.RSS,
		HostMemPct: snap.HostUsedPct,
		Goroutines: snap.NumGoroutine,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if s.deps.Sending != nil {
		rep.Sending = s.deps.Sending()
	}
	if s.deps.Runtimes != nil {
		rep.Runtimes = s.deps.Runtimes()
	}
	code := http.StatusOK
	if rep.Database == "down" {
		rep.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start serves in the background, restarting the listener on failure until
// ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || strings.TrimSpace(s.cfg.Addr) == "" {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Service) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("http listen failed", logx.String("addr", s.cfg.Addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http started", logx.String("addr", ln.Addr().String()), logx.Bool("webhook", s.deps.Webhook != nil))
	err = srv.Serve(ln)

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

// Stop shuts the server down and waits for the serve loop to exit.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	if srv != nil {
		sctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		_ = srv.Shutdown(sctx)
		cancel()
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// Errors from earlier restarts were already logged.
		s.log.Debug("http stopped with supervisor error", logx.Err(err))
	}
	s.log.Info("http stopped")
	return nil
}
