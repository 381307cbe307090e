package config

import (
	"reflect"
	"strings"

	logx "mailblast/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// safe structured attrs for logging. Secrets (cookies, passwords) never
// appear in the output, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Int("http.rate_per_sec", newCfg.HTTP.RatePerSec),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	// Sender: compare without leaking credentials.
	if senderChanged(oldCfg.Sender, newCfg.Sender) {
		changed = append(changed, "sender")
		attrs = append(attrs, logx.String("sender.driver", newCfg.Sender.Driver))
		if z := newCfg.Sender.Zoho; z != nil {
			attrs = append(attrs,
				logx.String("sender.zoho.endpoint", z.Endpoint),
				logx.Bool("sender.zoho.cookies_set", len(z.Cookies) > 0),
			)
		}
		if s := newCfg.Sender.SMTP; s != nil {
			attrs = append(attrs,
				logx.String("sender.smtp.host", s.Host),
				logx.Bool("sender.smtp.password_set", strings.TrimSpace(s.Password) != ""),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.batch_size", newCfg.Dispatch.BatchSize),
			logx.Int("dispatch.max_attempts", newCfg.Dispatch.MaxAttempts),
			logx.Int("dispatch.fatal_threshold", newCfg.Dispatch.FatalThreshold),
		)
	}

	if oldCfg.RateLimits != newCfg.RateLimits {
		changed = append(changed, "rate_limits")
		attrs = append(attrs,
			logx.Bool("rate_limits.enabled", newCfg.RateLimits.Enabled),
			logx.String("rate_limits.scope", newCfg.RateLimits.Scope),
			logx.Uint64("rate_limits.per_minute", uint64(newCfg.RateLimits.PerMinute)),
			logx.Uint64("rate_limits.per_day", uint64(newCfg.RateLimits.PerDay)),
		)
	}

	if oldCfg.Reconcile != newCfg.Reconcile {
		changed = append(changed, "reconcile")
		attrs = append(attrs, logx.String("reconcile.spec", newCfg.Reconcile.Spec))
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	return changed, attrs
}

func senderChanged(a, b SenderConfig) bool {
	if a.Driver != b.Driver {
		return true
	}
	if !reflect.DeepEqual(a.Zoho, b.Zoho) {
		return true
	}
	return !reflect.DeepEqual(a.SMTP, b.SMTP)
}
