package app

import (
	"fmt"
	"os"
	"strings"

	"mailblast/internal/config"
	"mailblast/internal/dispatch"
	"mailblast/internal/observability/pprof"
	"mailblast/internal/ratelimit"
	"mailblast/internal/server"
	"mailblast/internal/storage"
)

func errUnknownSender(driver string) error {
	return fmt.Errorf("sender.driver %q: want zoho, smtp or mock", driver)
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	retryPause, err := config.ParseDurationField("dispatch.retry_pause", cfg.Dispatch.RetryPause)
	if err != nil {
		return dispatch.Config{}, err
	}
	progressTimeout, err := config.ParseDurationField("dispatch.progress_timeout", cfg.Dispatch.ProgressTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	rl, err := mapRateLimit(cfg.RateLimits)
	if err != nil {
		return dispatch.Config{}, err
	}
	staleAge, err := config.ParseDurationField("reconcile.stale_age", cfg.Reconcile.StaleAge)
	if err != nil {
		return dispatch.Config{}, err
	}

	scope := strings.ToLower(strings.TrimSpace(cfg.RateLimits.Scope))
	switch scope {
	case "", dispatch.ScopeUser, dispatch.ScopeCampaign:
	default:
		return dispatch.Config{}, fmt.Errorf("rate_limits.scope %q: want user or campaign", cfg.RateLimits.Scope)
	}

	return dispatch.Config{
		BatchSize:       cfg.Dispatch.BatchSize,
		MaxAttempts:     cfg.Dispatch.MaxAttempts,
		RetryPause:      retryPause,
		FatalThreshold:  cfg.Dispatch.FatalThreshold,
		ProgressTimeout: progressTimeout,
		Scope:           scope,
		RateLimit:       rl,
		Denylist:        cfg.Dispatch.Denylist,
		ReconcileSpec:   cfg.Reconcile.Spec,
		StaleAge:        staleAge,
	}, nil
}

func mapRateLimit(rc config.RateLimitConfig) (ratelimit.Config, error) {
	minGap, err := config.ParseDurationField("rate_limits.min_gap", rc.MinGap)
	if err != nil {
		return ratelimit.Config{}, err
	}
	cooldown, err := config.ParseDurationField("rate_limits.cooldown", rc.Cooldown)
	if err != nil {
		return ratelimit.Config{}, err
	}
	return ratelimit.Config{
		Enabled:    rc.Enabled,
		PerSecond:  rc.PerSecond,
		PerMinute:  rc.PerMinute,
		PerHour:    rc.PerHour,
		PerDay:     rc.PerDay,
		MinGap:     minGap,
		BurstLimit: rc.BurstLimit,
		Cooldown:   cooldown,
	}, nil
}

func mapHTTPConfig(hc config.HTTPConfig) (server.Config, error) {
	readTimeout, err := config.ParseDurationField("http.read_timeout", hc.ReadTimeout)
	if err != nil {
		return server.Config{}, err
	}
	writeTimeout, err := config.ParseDurationField("http.write_timeout", hc.WriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	idleTimeout, err := config.ParseDurationField("http.idle_timeout", hc.IdleTimeout)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Enabled:      hc.Enabled,
		Addr:         hc.Addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		RatePerSec:   hc.RatePerSec,
		Burst:        hc.Burst,
	}, nil
}

func mapPprofConfig(pc config.PprofConfig) pprof.Config {
	return pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 pc.Addr,
		Token:                pc.Token,
		AllowInsecure:        pc.AllowInsecure,
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
	}
}

// validateConfig is the transactional reload hook: a file that fails here
// is rejected without touching the running services.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg.HTTP); err != nil {
		return err
	}
	switch senderDriver(cfg.Sender) {
	case "zoho", "smtp", "mock":
	default:
		return errUnknownSender(cfg.Sender.Driver)
	}
	if cfg.Sender.Zoho != nil {
		if _, err := config.ParseDurationField("sender.zoho.timeout", cfg.Sender.Zoho.Timeout); err != nil {
			return err
		}
	}
	return nil
}

// applyEnvOverrides layers secrets from the environment over the file so
// credentials can stay out of version-controlled configs. cmd/mailblast
// loads a .env first.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("MAILBLAST_SMTP_PASSWORD"); v != "" {
		if cfg.Sender.SMTP == nil {
			cfg.Sender.SMTP = &config.SMTPConfig{}
		}
		cfg.Sender.SMTP.Password = v
	}
	if v := os.Getenv("MAILBLAST_ZOHO_COOKIES"); v != "" {
		if cfg.Sender.Zoho == nil {
			cfg.Sender.Zoho = &config.ZohoConfig{}
		}
		cfg.Sender.Zoho.Cookies = parseCookiePairs(v)
	}
}

// parseCookiePairs parses "name=value; name2=value2" as sent in a Cookie
// header.
func parseCookiePairs(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out
}
