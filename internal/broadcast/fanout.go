package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/eventbus"
	"relaybot/internal/format"
	"relaybot/internal/session"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Result summarizes one fan-out.
type Result struct {
	BroadcastID int64
	Target      int
	Sent        int
	Failed      int
	// Failures holds up to Policy.FailureCap failed external ids in walk order.
	Failures    []int64
	Interrupted bool
	Duration    time.Duration
}

const finalizeTimeout = 15 * time.Second

// Run sends d to every active user. Individual delivery failures never stop
// the walk. Failing to create the record or to store the final counters
// is reported to the operator and returned; sends already issued stand.
func (e *Engine) Run(ctx context.Context, d session.Draft) (Result, error) {
	start := time.Now()
	pol := e.Policy()
	lim := pol.limiter()
	log := e.log.With(logx.String("run", uuid.NewString()))

	// Storage writes and operator notices after shutdown still need to land.
	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	users, err := e.store.ListActiveUsers(ctx)
	if err != nil {
		e.notify(final, format.BroadcastAborted(err).String())
		return Result{}, fmt.Errorf("list recipients: %w", err)
	}

	media := storage.MediaText
	if d.Photo {
		media = storage.MediaPhoto
	}
	res := Result{Target: len(users)}
	res.BroadcastID, err = e.store.CreateBroadcast(ctx, storage.Broadcast{
		AuthorID: e.operatorID,
		Body:     d.Body,
		Media:    media,
		MediaRef: d.FileID,
		Target:   res.Target,
	})
	if err != nil {
		e.notify(final, format.BroadcastAborted(err).String())
		return res, fmt.Errorf("create broadcast: %w", err)
	}

	log.Info("broadcast started", logx.Int64("broadcast_id", res.BroadcastID), logx.Int("total", res.Target))
	e.bus.Publish(eventbus.Event{Type: eventbus.BroadcastStarted, Data: eventbus.Finished{BroadcastID: res.BroadcastID, Target: res.Target}})
	e.notify(ctx, format.BroadcastSending(res.Target).String())

	text := format.Announcement(d.Body).String()
	for i, u := range users {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				res.Interrupted = true
				break
			}
		}

		err := e.deliver(ctx, u.ExternalID, d, text)
		if err != nil && ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		e.bus.Publish(eventbus.Event{Type: eventbus.BroadcastDelivery, Data: eventbus.Delivery{
			BroadcastID: res.BroadcastID,
			ChatID:      u.ExternalID,
			OK:          err == nil,
			Unreachable: err != nil && transport.IsUnreachable(err),
		}})

		if err != nil {
			res.Failed++
			if len(res.Failures) < pol.FailureCap {
				res.Failures = append(res.Failures, u.ExternalID)
			}
			log.Warn("broadcast send failed", logx.Int64("chat_id", u.ExternalID), logx.String("class", string(transport.ClassifyDelivery(err))), logx.Err(err))
			if transport.IsUnreachable(err) {
				if err := e.store.SetUserActive(ctx, u.ExternalID, false); err != nil {
					log.Warn("deactivate user failed", logx.Int64("chat_id", u.ExternalID), logx.Err(err))
				}
			}
			continue
		}

		res.Sent++
		if _, err := e.store.SaveMessage(ctx, storage.Message{
			UserID:    u.ID,
			ChatID:    u.ExternalID,
			Body:      d.Body,
			Role:      storage.RoleBroadcast,
			Media:     media,
			MediaRef:  d.FileID,
			Forwarded: true,
		}); err != nil {
			log.Warn("save broadcast message failed", logx.Int64("chat_id", u.ExternalID), logx.Err(err))
		}

		if res.Sent%pol.ProgressEvery == 0 {
			e.notify(ctx, format.BroadcastProgress(i+1, res.Target).String())
			if !sleepCtx(ctx, pol.ProgressPause) {
				res.Interrupted = i < len(users)-1
				break
			}
		}
	}
	res.Duration = time.Since(start)

	if err := e.store.UpdateBroadcastStats(final, res.BroadcastID, res.Sent, res.Failed); err != nil {
		e.notify(final, format.BroadcastAborted(err).String())
		return res, fmt.Errorf("update broadcast %d: %w", res.BroadcastID, err)
	}

	e.notify(final, format.BroadcastReport(format.Report{
		Target:   res.Target,
		Sent:     res.Sent,
		Failed:   res.Failed,
		Failures: res.Failures,
		Sample:   pol.FailureSample,
	}).String())

	e.bus.Publish(eventbus.Event{Type: eventbus.BroadcastFinished, Data: eventbus.Finished{
		BroadcastID: res.BroadcastID,
		Target:      res.Target,
		Sent:        res.Sent,
		Failed:      res.Failed,
		Duration:    res.Duration,
	}})
	fields := []logx.Field{
		logx.Int64("broadcast_id", res.BroadcastID),
		logx.Int("total", res.Target),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Duration("dur", res.Duration),
	}
	switch {
	case res.Interrupted:
		log.Warn("broadcast interrupted by shutdown", fields...)
	case res.Failed > 0:
		log.Warn("broadcast finished with failures", fields...)
	default:
		log.Info("broadcast finished", fields...)
	}
	return res, nil
}

func (e *Engine) deliver(ctx context.Context, chatID int64, d session.Draft, text string) error {
	var err error
	if d.Photo {
		_, err = e.out.SendPhoto(ctx, chatID, d.FileID, text, html)
	} else {
		_, err = e.out.SendText(ctx, chatID, text, html)
	}
	return err
}

// sleepCtx returns false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
