package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Supervisor returns the dispatcher's supervisor (nil if not running).
func (m *Manager) Supervisor() *supervisor.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *Manager) setSupervisor(sup *supervisor.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log),
		supervisor.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("dispatcher started", logx.Int("workers", m.cfg.Workers), logx.Int("queue_cap", cap(m.userJobs)))

	m.startWorker(sup, "operator.worker", m.opJobs)
	for i := 0; i < m.cfg.Workers; i++ {
		m.startWorker(sup, "user.worker."+strconv.Itoa(i), m.userJobs)
	}

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// Mark as not running before closing so enqueue can degrade gracefully.
			m.setSupervisor(sup, false)
			close(m.opJobs)
			close(m.userJobs)
		})
	}

	defer func() {
		closeJobs()
		// Wait briefly for workers to drain.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *Manager) startWorker(sup *supervisor.Supervisor, name string, jobs <-chan func()) {
	sup.GoRestart(name, func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case job, ok := <-jobs:
				if !ok {
					return nil
				}
				if job == nil {
					continue
				}
				// Middleware already recovers; keep the worker alive regardless.
				func() {
					defer func() {
						if r := recover(); r != nil {
							m.log.Error("panic in dispatch job", logx.String("worker", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
						}
					}()
					job()
				}()
			}
		}
	},
		supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		supervisor.WithPublishFirstError(true),
		supervisor.WithStopOnCleanExit(true),
	)
}
