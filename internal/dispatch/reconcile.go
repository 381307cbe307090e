package dispatch

import (
	"context"

	"mailblast/internal/campaign"
	"mailblast/internal/eventbus"
	logx "mailblast/pkg/logx"
)

// reconcile is the periodic sweep. It fails Running rows whose worker is
// gone (a crash or unclean restart left them behind) and evicts limiter
// state that has sat idle past the configured age.
func (d *Dispatcher) reconcile(ctx context.Context) {
	cfg := d.config()

	runs, err := d.store.ListRuns(ctx)
	if err != nil {
		d.log.Error("reconcile: list runs", logx.Err(err))
		return
	}

	active := map[string]struct{}{}
	for _, id := range d.registry.ActiveIDs() {
		active[id] = struct{}{}
	}

	for _, run := range runs {
		if run.Status != campaign.StatusRunning {
			continue
		}
		if _, ok := active[run.CampaignID]; ok {
			continue
		}

		run.Status = campaign.StatusFailed
		run.LastError = "worker missing"
		run.CompletedAt = d.now()
		run.UpdatedAt = d.now()
		if err := d.store.SaveRun(ctx, run); err != nil {
			d.log.Error("reconcile: fail orphaned run",
				logx.String("campaign_id", run.CampaignID), logx.Err(err))
			continue
		}
		d.log.Warn("reconcile: orphaned run failed",
			logx.String("campaign_id", run.CampaignID),
			logx.Int("cursor", run.Cursor),
		)
		d.bus.Publish(eventbus.Event{
			Type:       eventbus.TypeCampaignFailed,
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

	if evicted := d.limiter.EvictStale(cfg.StaleAge); evicted > 0 {
		d.log.Debug("reconcile: evicted idle limiter state",
			logx.Int("evicted", evicted),
			logx.Duration("max_idle", cfg.StaleAge),
		)
	}
}
