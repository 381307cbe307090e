package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"mailblast/internal/campaign"
	"mailblast/internal/classify"
	"mailblast/internal/eventbus"
	"mailblast/internal/ratelimit"
	"mailblast/internal/sender"
	"mailblast/internal/storage"
	logx "mailblast/pkg/logx"
)

// backoffCap bounds any single throttle or retry-after sleep so a stop
// signal is observed within seconds, never minutes.
const backoffCap = 5 * time.Second

// pausePoll is how often a paused worker re-reads its signal.
const pausePoll = 250 * time.Millisecond

type waitOutcome int

const (
	waitProceed waitOutcome = iota
	waitStop
	waitRecheck // pause arrived mid-wait; outer loop handles it
	waitStalled
)

// runCampaign is the worker body. It is the sole mutator of this
// campaign's run; everything it suspends on (throttle backoff, pause,
// the send call) is cancellable so a stop lands within bounded latency.
func (d *Dispatcher) runCampaign(ctx context.Context, st *campaign.State, spec CampaignSpec, src RecipientSource, cfg Config, rl ratelimit.Config, cls *classify.Classifier, suppressed map[string]struct{}) {
	defer d.wg.Done()

	run := st.Snapshot()
	log := d.log.With(
		logx.String("campaign_id", run.CampaignID),
		logx.String("run_id", run.RunID),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in campaign worker", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			d.finish(st, log, campaign.StatusFailed, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	identity := cfg.identity(spec)
	rng := rand.New(rand.NewSource(d.now().UnixNano()))

	if err := d.store.SaveRun(ctx, run); err != nil {
		log.Error("persist initial state", logx.Err(err))
	}
	d.publish(eventbus.TypeCampaignStarted, run)
	log.Info("campaign started",
		logx.Int("recipients", run.TotalRecipients),
		logx.Int("cursor", run.Cursor),
		logx.Int("suppressed", len(suppressed)),
		logx.Bool("throttled", rl.Enabled),
	)

	consecFailed := 0
	dirty := 0
	lastProgress := d.now()

	for {
		run = st.Snapshot()
		if run.Cursor >= src.Len() {
			d.finish(st, log, campaign.StatusCompleted, "")
			return
		}
		if ctx.Err() != nil {
			d.finish(st, log, campaign.StatusStopped, "")
			return
		}

		switch st.Signal() {
		case campaign.SignalStop:
			d.finish(st, log, campaign.StatusStopped, "")
			return
		case campaign.SignalPause:
			if !d.waitPaused(ctx, st, log) {
				d.finish(st, log, campaign.StatusStopped, "")
				return
			}
			continue
		}

		recipient := src.At(run.Cursor)

		// Recipients that bounced in an earlier run are never re-sent;
		// they advance the cursor without touching quota.
		if _, skip := suppressed[recipient]; skip {
			run = d.recordOutcome(ctx, st, log, recipient, classify.Bounced, "bounced in earlier run")
			dirty++
			if dirty >= cfg.BatchSize {
				d.flush(ctx, log, run)
				dirty = 0
			}
			continue
		}

		msg := sender.Message{
			Recipient: recipient,
			Subject:   spec.Subjects[rng.Intn(len(spec.Subjects))],
			Body:      spec.Body,
			From:      spec.Froms[rng.Intn(len(spec.Froms))],
		}

		res, sendErr, out := d.attemptSend(ctx, st, cfg, rl, identity, msg, lastProgress, log)
		switch out {
		case waitStop:
			d.finish(st, log, campaign.StatusStopped, "")
			return
		case waitRecheck:
			continue
		case waitStalled:
			d.finish(st, log, campaign.StatusFailed, "no progress within "+cfg.ProgressTimeout.String())
			return
		}

		class, reason := cls.Classify(classify.Attempt{
			Recipient:     recipient,
			Sent:          sendErr == nil,
			StatusCode:    res.StatusCode,
			Err:           sendErr,
			Verdict:       res.Verdict,
			VerdictReason: res.VerdictReason,
		})
		run = d.recordOutcome(ctx, st, log, recipient, class, reason)
		lastProgress = d.now()

		if sender.IsAuth(sendErr) {
			d.finish(st, log, campaign.StatusFailed, "authentication failed: "+sendErr.Error())
			return
		}

		if class == classify.Failed {
			consecFailed++
			if consecFailed >= cfg.FatalThreshold {
				d.finish(st, log, campaign.StatusFailed, fmt.Sprintf("%d consecutive send failures, last: %s", consecFailed, reason))
				return
			}
		} else {
			consecFailed = 0
		}

		dirty++
		if dirty >= cfg.BatchSize {
			d.flush(ctx, log, run)
			dirty = 0
		}
	}
}

// attemptSend pushes one recipient through the transport, consulting the
// limiter before and committing quota after every physical call. Failed
// calls are retried in place up to cfg.MaxAttempts; an auth failure comes
// straight back so the campaign can fail.
func (d *Dispatcher) attemptSend(ctx context.Context, st *campaign.State, cfg Config, rl ratelimit.Config, identity string, msg sender.Message, lastProgress time.Time, log logx.Logger) (sender.Result, error, waitOutcome) {
	var res sender.Result
	var err error

	for try := 0; try < cfg.MaxAttempts; try++ {
		if try > 0 {
			if !d.sleep(ctx, st.StopChan(), cfg.RetryPause) {
				return res, err, waitStop
			}
		}

		// Only the first attempt may yield to a pause; mid-recipient
		// retries honor stop alone.
		if out := d.awaitQuota(ctx, st, cfg, rl, identity, lastProgress, try == 0, log); out != waitProceed {
			return res, err, out
		}

		res, err = d.send.Send(ctx, msg)
		d.limiter.Commit(identity)
		if err == nil {
			return res, nil, waitProceed
		}
		if sender.IsAuth(err) {
			return res, err, waitProceed
		}

		var ra sender.RetryAfterError
		if errors.As(err, &ra) {
			if !d.sleep(ctx, st.StopChan(), capDur(ra.RetryAfter(), backoffCap)) {
				return res, err, waitStop
			}
		}
		log.Warn("send attempt failed",
			logx.String("recipient", msg.Recipient),
			logx.Int("attempt", try+1),
			logx.Err(err),
		)
	}
	return res, err, waitProceed
}

// awaitQuota blocks until the limiter admits a send. Denials sleep the
// wait hint, capped, then re-check, so stop and pause land promptly.
func (d *Dispatcher) awaitQuota(ctx context.Context, st *campaign.State, cfg Config, rl ratelimit.Config, identity string, lastProgress time.Time, honorPause bool, log logx.Logger) waitOutcome {
	throttled := false
	for {
		if ctx.Err() != nil {
			return waitStop
		}
		switch st.Signal() {
		case campaign.SignalStop:
			return waitStop
		case campaign.SignalPause:
			if honorPause {
				return waitRecheck
			}
		}

		dec := d.limiter.Check(identity, rl)
		if dec.Allowed {
			return waitProceed
		}
		if cfg.ProgressTimeout > 0 && d.now().Sub(lastProgress) > cfg.ProgressTimeout {
			return waitStalled
		}

		if !throttled {
			throttled = true
			run := st.Snapshot()
			log.Debug("throttled", logx.String("reason", dec.Reason), logx.Duration("wait", dec.Wait))
			d.bus.Publish(eventbus.Event{
				Type:       eventbus.TypeThrottled,
				CampaignID: run.CampaignID,
				Time:       d.now(),
				Data:       ThrottleEvent{Reason: dec.Reason, Wait: dec.Wait},
			})
		}

		wait := dec.Wait
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		if !d.sleep(ctx, st.StopChan(), capDur(wait, backoffCap)) {
			return waitStop
		}
	}
}

// waitPaused parks the worker until Resume or Stop. Returns false on stop.
func (d *Dispatcher) waitPaused(ctx context.Context, st *campaign.State, log logx.Logger) bool {
	run := st.Update(func(r *campaign.Run) { r.Status = campaign.StatusPaused })
	if err := d.store.SaveRun(ctx, run); err != nil {
		log.Error("persist paused state", logx.Err(err))
	}
	d.publish(eventbus.TypeCampaignPaused, run)
	log.Info("campaign paused", logx.Int("cursor", run.Cursor))

	for {
		if !d.sleep(ctx, st.StopChan(), pausePoll) {
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		if st.Signal() == campaign.SignalResume {
			run = st.Update(func(r *campaign.Run) { r.Status = campaign.StatusRunning })
			if err := d.store.SaveRun(ctx, run); err != nil {
				log.Error("persist resumed state", logx.Err(err))
			}
			d.publish(eventbus.TypeCampaignResumed, run)
			log.Info("campaign resumed", logx.Int("cursor", run.Cursor))
			return true
		}
	}
}

// recordOutcome applies one processed recipient: cursor advance, counter
// bump, durable outcome record, per-recipient event.
func (d *Dispatcher) recordOutcome(ctx context.Context, st *campaign.State, log logx.Logger, recipient string, class classify.Class, reason string) campaign.Run {
	run := st.Update(func(r *campaign.Run) {
		r.Cursor++
		switch class {
		case classify.Bounced:
			r.TotalBounced++
		case classify.Failed:
			r.TotalFailed++
		default:
			// Delivered, plus Unknown: the downstream accepted the send
			// without an authoritative verdict, so it counts as sent.
			r.TotalSent++
		}
	})

	rec := storage.OutcomeRecord{
		ID:             uuid.NewString(),
		CampaignID:     run.CampaignID,
		RunID:          run.RunID,
		Recipient:      recipient,
		Classification: string(class),
		Reason:         reason,
		At:             d.now(),
	}
	if err := d.store.AppendOutcome(ctx, rec); err != nil {
		log.Warn("append outcome", logx.String("recipient", recipient), logx.Err(err))
	}

	d.bus.Publish(eventbus.Event{
		Type:       eventbus.TypeRecipientOutcome,
		CampaignID: run.CampaignID,
		Time:       d.now(),
		Data: OutcomeEvent{
			Recipient:      recipient,
			Classification: string(class),
			Reason:         reason,
			Cursor:         run.Cursor,
		},
	})
	return run
}

// flush persists cumulative totals. The write is a full replay of the run
// row, so repeating it after a crash changes nothing.
func (d *Dispatcher) flush(ctx context.Context, log logx.Logger, run campaign.Run) {
	if err := d.store.SaveRun(ctx, run); err != nil {
		log.Error("flush progress", logx.Err(err))
		return
	}
	d.publish(eventbus.TypeBatchFlushed, run)
}

// finish applies a terminal status, persists it, publishes the terminal
// event and detaches the worker.
func (d *Dispatcher) finish(st *campaign.State, log logx.Logger, status campaign.Status, lastError string) {
	run := st.Update(func(r *campaign.Run) {
		r.Status = status
		r.LastError = lastError
		r.CompletedAt = d.now()
	})

	// The run context may already be cancelled at shutdown; the terminal
	// row must land regardless.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.SaveRun(ctx, run); err != nil {
		log.Error("persist terminal state", logx.Err(err))
	}

	d.publish(terminalEventType(status), run)
	d.registry.Unregister(run.CampaignID)

	ev := log.Info
	if status == campaign.StatusFailed {
		ev = log.Error
	}
	ev("campaign finished",
		logx.String("status", string(status)),
		logx.Int("cursor", run.Cursor),
		logx.Int("sent", run.TotalSent),
		logx.Int("failed", run.TotalFailed),
		logx.Int("bounced", run.TotalBounced),
		logx.String("last_error", lastError),
	)
}

func (d *Dispatcher) publish(eventType string, run campaign.Run) {
	d.bus.Publish(eventbus.Event{
		Type:       eventType,
		CampaignID: run.CampaignID,
		Time:       d.now(),
		Data: ProgressEvent{
			Status:          string(run.Status),
			TotalRecipients: run.TotalRecipients,
			TotalSent:       run.TotalSent,
			TotalFailed:     run.TotalFailed,
			TotalBounced:    run.TotalBounced,
			Cursor:          run.Cursor,
			LastError:       run.LastError,
		},
	})
}

func terminalEventType(status campaign.Status) string {
	switch status {
	case campaign.StatusCompleted:
		return eventbus.TypeCampaignCompleted
	case campaign.StatusFailed:
		return eventbus.TypeCampaignFailed
	default:
		return eventbus.TypeCampaignStopped
	}
}

// sleep waits for dur unless a stop lands first. Returns false on stop or
// context cancellation.
func (d *Dispatcher) sleep(ctx context.Context, stop <-chan struct{}, dur time.Duration) bool {
	if dur <= 0 {
		return true
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func capDur(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}
