// Package app wires configuration, logging, storage, the dispatcher and
// the HTTP control surface into one process lifecycle.
package app

import (
	"context"
	"strings"
	"sync"

	"mailblast/internal/campaign"
	"mailblast/internal/config"
	"mailblast/internal/dispatch"
	"mailblast/internal/eventbus"
	"mailblast/internal/observability/pprof"
	"mailblast/internal/ratelimit"
	"mailblast/internal/sender"
	"mailblast/internal/server"
	"mailblast/internal/storage"
	logx "mailblast/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	bus      eventbus.Bus
	store    storage.Store
	limiter  *ratelimit.Limiter
	registry *campaign.Registry

	dispatcher *dispatch.Dispatcher
	http       *server.Service
	pprof      *pprof.Service

	watchCancel context.CancelFunc
	reloads     chan *config.Config
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("component", "app"))

	stCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(stCfg, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", stCfg.Driver), logx.String("path", stCfg.Path))

	bus := eventbus.New()
	limiter := ratelimit.New()
	registry := campaign.NewRegistry()

	snd, err := buildSender(cfg.Sender)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info("sender ready", logx.String("driver", senderDriver(cfg.Sender)))

	dCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	d := dispatch.New(dCfg, store, bus, limiter, registry, snd, log)

	hCfg, err := mapHTTPConfig(cfg.HTTP)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	httpSvc := server.New(hCfg, d, store, bus, log)
	pprofSvc := pprof.New(mapPprofConfig(cfg.Pprof), log)

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		limiter:    limiter,
		registry:   registry,
		dispatcher: d,
		http:       httpSvc,
		pprof:      pprofSvc,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	if err := a.dispatcher.Start(ctx); err != nil {
		return err
	}
	if err := a.http.Start(ctx); err != nil {
		a.dispatcher.Stop(ctx)
		return err
	}
	if err := a.pprof.Start(ctx); err != nil {
		a.http.Stop(ctx)
		a.dispatcher.Stop(ctx)
		return err
	}

	// Hot reload: watch the file, validate, apply what can be applied live.
	a.cfgm.SetLogger(a.log.With(logx.String("component", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	watchCtx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	a.reloads = a.cfgm.Subscribe(4)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(watchCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.reloadLoop(watchCtx)
	}()

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.reloads != nil {
		a.cfgm.Unsubscribe(a.reloads)
		a.reloads = nil
	}
	a.wg.Wait()

	a.pprof.Stop(ctx)
	a.http.Stop(ctx)
	a.dispatcher.Stop(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("close storage", logx.Err(err))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// reloadLoop applies committed config updates to the live services.
// Storage and sender drivers need a restart; everything else hot-swaps.
func (a *App) reloadLoop(ctx context.Context) {
	var prev *config.Config
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.reloads:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			applyEnvOverrides(cfg)
			changed, attrs := config.SummarizeConfigChange(prev, cfg)
			prev = cfg
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config reloaded", append([]logx.Field{
				logx.String("sections", strings.Join(changed, ",")),
			}, attrs...)...)

			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})

			if dCfg, err := mapDispatchConfig(cfg); err == nil {
				a.dispatcher.Apply(dCfg)
			} else {
				a.log.Warn("dispatch config rejected", logx.Err(err))
			}
			if hCfg, err := mapHTTPConfig(cfg.HTTP); err == nil {
				a.http.Apply(hCfg)
			} else {
				a.log.Warn("http config rejected", logx.Err(err))
			}
			if err := a.pprof.Apply(ctx, mapPprofConfig(cfg.Pprof)); err != nil {
				a.log.Warn("pprof config rejected", logx.Err(err))
			}

			for _, section := range changed {
				if section == "storage" || section == "sender" {
					a.log.Warn("section change requires restart", logx.String("section", section))
				}
			}
		}
	}
}

func senderDriver(sc config.SenderConfig) string {
	d := strings.ToLower(strings.TrimSpace(sc.Driver))
	if d == "" {
		return "mock"
	}
	return d
}

func buildSender(sc config.SenderConfig) (sender.Sender, error) {
	switch senderDriver(sc) {
	case "zoho":
		zc := sc.Zoho
		if zc == nil {
			zc = &config.ZohoConfig{}
		}
		timeout, err := config.ParseDurationField("sender.zoho.timeout", zc.Timeout)
		if err != nil {
			return nil, err
		}
		return sender.NewZoho(sender.ZohoConfig{
			Endpoint:   zc.Endpoint,
			TemplateID: zc.TemplateID,
			Headers:    zc.Headers,
			Cookies:    zc.Cookies,
			Timeout:    timeout,
		}), nil
	case "smtp":
		mc := sc.SMTP
		if mc == nil {
			mc = &config.SMTPConfig{}
		}
		return sender.NewSMTP(sender.SMTPConfig{
			Host:     mc.Host,
			Port:     mc.Port,
			Username: mc.Username,
			Password: mc.Password,
		}), nil
	case "mock":
		return sender.NewMock(), nil
	default:
		return nil, errUnknownSender(sc.Driver)
	}
}
