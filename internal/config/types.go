package config

// Config is the full declarative configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secrets (Zoho cookies, SMTP passwords) may be supplied via environment
// variables instead of the file; see cmd/mailblast.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`
	Storage StorageConfig `json:"storage"`
	Sender  SenderConfig  `json:"sender"`

	Dispatch   DispatchConfig  `json:"dispatch"`
	RateLimits RateLimitConfig `json:"rate_limits"`
	Reconcile  ReconcileConfig `json:"reconcile,omitempty"`
	Pprof      PprofConfig     `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the control API server.
//
// RatePerSec/Burst throttle requests per remote address; this is request
// throttling on the boundary, unrelated to campaign send quotas.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"` // 0 disables; SSE streams need that
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	RatePerSec int `json:"rate_per_sec,omitempty"` // default: 20
	Burst      int `json:"burst,omitempty"`        // default: 40
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./mailblast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SenderConfig selects and configures the outbound mail driver.
type SenderConfig struct {
	Driver string      `json:"driver"` // "zoho", "smtp" or "mock"
	Zoho   *ZohoConfig `json:"zoho,omitempty"`
	SMTP   *SMTPConfig `json:"smtp,omitempty"`
}

type ZohoConfig struct {
	Endpoint   string            `json:"endpoint"`
	TemplateID string            `json:"template_id"`
	Headers    map[string]string `json:"headers,omitempty"`
	Cookies    map[string]string `json:"cookies,omitempty"` // never logged
	Timeout    string            `json:"timeout,omitempty"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"` // never logged
}

// DispatchConfig controls the campaign workers.
//
// Defaults (when fields are omitted/zero):
//   - batch_size: 50
//   - max_attempts: 3
//   - retry_pause: "3s"
//   - fatal_threshold: 5
//   - progress_timeout: "0s" (disabled)
type DispatchConfig struct {
	BatchSize      int    `json:"batch_size,omitempty"`
	MaxAttempts    int    `json:"max_attempts,omitempty"`
	RetryPause     string `json:"retry_pause,omitempty"`
	FatalThreshold int    `json:"fatal_threshold,omitempty"`

	// ProgressTimeout fails a campaign stuck without forward progress.
	ProgressTimeout string `json:"progress_timeout,omitempty"`

	// Denylist overrides the bounce-indicator substrings. Omitted keeps
	// the built-in list; an explicit empty list disables the heuristic.
	Denylist []string `json:"denylist,omitempty"`
}

// RateLimitConfig is the default send quota set. A campaign may carry its
// own override at launch; this section is the global fallback.
//
// Scope "user" shares counters across all campaigns of one user; scope
// "campaign" gives every campaign its own counters.
type RateLimitConfig struct {
	Enabled bool   `json:"enabled"`
	Scope   string `json:"scope,omitempty"` // "user" (default) or "campaign"

	PerSecond uint `json:"per_second,omitempty"`
	PerMinute uint `json:"per_minute,omitempty"`
	PerHour   uint `json:"per_hour,omitempty"`
	PerDay    uint `json:"per_day,omitempty"`

	MinGap     string `json:"min_gap,omitempty"`
	BurstLimit uint   `json:"burst_limit,omitempty"`
	Cooldown   string `json:"cooldown,omitempty"`
}

// ReconcileConfig controls the background sweep that fails orphaned
// Running rows and evicts idle limiter state.
type ReconcileConfig struct {
	Spec     string `json:"spec,omitempty"`      // cron spec, default "@every 1m"
	StaleAge string `json:"stale_age,omitempty"` // limiter eviction age, default "48h"
}

// PprofConfig controls the optional debug profiling server. Binding to a
// non-loopback address requires a token or allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
