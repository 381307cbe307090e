package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"mailblast/internal/dispatch"
	"mailblast/internal/eventbus"
	"mailblast/internal/storage"
	logx "mailblast/pkg/logx"
)

// Config is the runtime server configuration (durations already parsed).
type Config struct {
	Enabled bool
	Addr    string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration // 0 keeps SSE streams alive
	IdleTimeout  time.Duration

	RatePerSec int
	Burst      int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.Burst <= 0 {
		c.Burst = 2 * c.RatePerSec
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log        logx.Logger
	dispatcher *dispatch.Dispatcher
	store      storage.Store
	bus        eventbus.Bus

	feed    *logFeed
	clients *clientLimiter
	srv     *http.Server
}

func New(cfg Config, d *dispatch.Dispatcher, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:        cfg,
		log:        log.With(logx.String("component", "http")),
		dispatcher: d,
		store:      store,
		bus:        bus,
		feed:       newLogFeed(bus, 200),
		clients:    newClientLimiter(cfg.RatePerSec, cfg.Burst),
	}
}

// Apply records a new config. Listener address changes take effect on the
// next Start; the request throttle updates immediately.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.clients.apply(cfg.RatePerSec, cfg.Burst)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Debug("http disabled")
		return nil
	}

	s.feed.start()

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.srv = srv

	go func() {
		s.log.Info("listening", logx.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server", logx.Err(err))
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	s.feed.stop()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
		_ = srv.Close()
	}
	s.log.Info("http stopped")
}
