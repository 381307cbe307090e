package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mailblast/internal/campaign"
	"mailblast/internal/classify"
	"mailblast/internal/eventbus"
	"mailblast/internal/ratelimit"
	"mailblast/internal/sender"
	"mailblast/internal/storage"
	logx "mailblast/pkg/logx"
)

// Dispatcher owns campaign workers. Constructed once at process start;
// StartCampaign spawns one goroutine per campaign, the registry enforces
// at-most-one worker per id, and Stop winds everything down.
type Dispatcher struct {
	mu  sync.Mutex
	cfg Config

	log      logx.Logger
	store    storage.Store
	bus      eventbus.Bus
	limiter  *ratelimit.Limiter
	registry *campaign.Registry
	send     sender.Sender
	classify *classify.Classifier

	runCtx    context.Context
	runCancel context.CancelFunc
	cron      *cron.Cron
	wg        sync.WaitGroup

	now func() time.Time
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, limiter *ratelimit.Limiter, registry *campaign.Registry, snd sender.Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:      cfg,
		log:      log.With(logx.String("component", "dispatch")),
		store:    store,
		bus:      bus,
		limiter:  limiter,
		registry: registry,
		send:     snd,
		classify: classify.New(cfg.Denylist),
		now:      time.Now,
	}
}

// Apply swaps the config. Running campaigns keep the settings they were
// launched with; only new launches and the reconciler see the update.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.classify = classify.New(cfg.Denylist)
	d.mu.Unlock()
}

func (d *Dispatcher) config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Start arms the dispatcher: campaigns may be launched and the
// reconciliation sweep begins.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runCtx != nil {
		return nil
	}
	d.runCtx, d.runCancel = context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(d.cfg.ReconcileSpec, func() { d.reconcile(d.runCtx) }); err != nil {
		d.runCancel()
		d.runCtx, d.runCancel = nil, nil
		return fmt.Errorf("reconcile schedule %q: %w", d.cfg.ReconcileSpec, err)
	}
	c.Start()
	d.cron = c

	d.log.Info("dispatcher started", logx.String("reconcile", d.cfg.ReconcileSpec))
	return nil
}

// Stop signals every active campaign, waits for workers within ctx, then
// cancels in-flight sends as a last resort.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.runCtx == nil {
		d.mu.Unlock()
		return
	}
	c := d.cron
	cancel := d.runCancel
	d.cron = nil
	d.runCtx, d.runCancel = nil, nil
	d.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	for _, id := range d.registry.ActiveIDs() {
		_ = d.registry.Signal(id, campaign.SignalStop)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn("stop deadline hit, cancelling in-flight sends")
		cancel()
		<-done
	}
	cancel()
	d.log.Info("dispatcher stopped")
}

// StartCampaign registers and launches one campaign, returning as soon as
// the worker goroutine is off. A Stopped or Failed campaign resumes from
// its persisted cursor; a Completed one restarts from zero. Recipients
// that bounced in an earlier run are suppressed, never re-sent.
func (d *Dispatcher) StartCampaign(ctx context.Context, spec CampaignSpec, src RecipientSource) (campaign.Run, error) {
	d.mu.Lock()
	runCtx := d.runCtx
	cfg := d.cfg
	cls := d.classify
	d.mu.Unlock()
	if runCtx == nil {
		return campaign.Run{}, ErrNotStarted
	}
	if strings.TrimSpace(spec.CampaignID) == "" {
		return campaign.Run{}, ErrUnknownCampaign
	}
	if src == nil || src.Len() == 0 {
		return campaign.Run{}, ErrNoRecipients
	}
	if len(spec.Subjects) == 0 || len(spec.Froms) == 0 {
		return campaign.Run{}, ErrNoIdentity
	}

	run := campaign.Run{
		CampaignID:      spec.CampaignID,
		UserID:          spec.UserID,
		RunID:           uuid.NewString(),
		TotalRecipients: src.Len(),
	}

	var suppressed map[string]struct{}
	prev, found, err := d.store.GetRun(ctx, spec.CampaignID)
	if err != nil {
		return campaign.Run{}, fmt.Errorf("load run: %w", err)
	}
	if found {
		// Completed runs restart from zero; everything else (Stopped,
		// Failed, a stale Running row from a dead process) resumes from
		// the cursor with its counters intact.
		if prev.Status != campaign.StatusCompleted {
			run.Cursor = prev.Cursor
			run.TotalSent = prev.TotalSent
			run.TotalFailed = prev.TotalFailed
			run.TotalBounced = prev.TotalBounced
		}
		if run.UserID == "" {
			run.UserID = prev.UserID
		}
		suppressed, err = d.store.BouncedRecipients(ctx, spec.CampaignID)
		if err != nil {
			return campaign.Run{}, fmt.Errorf("load bounce ledger: %w", err)
		}
	}

	st, err := d.registry.TryStart(run)
	if err != nil {
		return campaign.Run{}, err
	}

	rl := cfg.RateLimit
	if spec.RateLimit != nil {
		rl = *spec.RateLimit
	}

	d.wg.Add(1)
	go d.runCampaign(runCtx, st, spec, src, cfg, rl, cls, suppressed)

	return st.Snapshot(), nil
}

func (d *Dispatcher) StopCampaign(id string) error {
	return d.registry.Signal(id, campaign.SignalStop)
}

func (d *Dispatcher) PauseCampaign(id string) error {
	return d.registry.Signal(id, campaign.SignalPause)
}

func (d *Dispatcher) ResumeCampaign(id string) error {
	return d.registry.Signal(id, campaign.SignalResume)
}

// Status reports the live run when a worker is attached, falling back to
// the last persisted record.
func (d *Dispatcher) Status(ctx context.Context, id string) (campaign.Run, error) {
	if run, ok := d.registry.Get(id); ok {
		return run, nil
	}
	run, ok, err := d.store.GetRun(ctx, id)
	if err != nil {
		return campaign.Run{}, err
	}
	if !ok {
		return campaign.Run{}, ErrUnknownCampaign
	}
	return run, nil
}

// Statuses lists every known run, live snapshots taking precedence over
// persisted rows.
func (d *Dispatcher) Statuses(ctx context.Context) ([]campaign.Run, error) {
	stored, err := d.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]campaign.Run, 0, len(stored))
	for _, run := range stored {
		if live, ok := d.registry.Get(run.CampaignID); ok {
			run = live
		}
		out = append(out, run)
	}
	for _, id := range d.registry.ActiveIDs() {
		seen := false
		for _, run := range out {
			if run.CampaignID == id {
				seen = true
				break
			}
		}
		if !seen {
			if live, ok := d.registry.Get(id); ok {
				out = append(out, live)
			}
		}
	}
	return out, nil
}

// identity composes the rate-limit key per the configured scope.
func (cfg Config) identity(spec CampaignSpec) string {
	owner := spec.UserID
	if owner == "" {
		owner = spec.CampaignID
	}
	if cfg.Scope == ScopeCampaign {
		return owner + ":" + spec.CampaignID
	}
	return owner
}
