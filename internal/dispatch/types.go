package dispatch

import (
	"time"

	"mailblast/internal/ratelimit"
	"mailblast/internal/sender"
)

// Scope selects which identity the rate limiter keys its counters by.
const (
	ScopeUser     = "user"
	ScopeCampaign = "campaign"
)

// Config tunes the dispatcher. A zero value is usable; withDefaults fills
// the gaps.
type Config struct {
	// BatchSize is how many processed recipients accumulate before the
	// run record is flushed to storage and an aggregate event published.
	BatchSize int

	// MaxAttempts is how many physical send calls one recipient gets
	// before it is abandoned as failed. Each physical call consumes quota.
	MaxAttempts int

	// RetryPause is the wait between physical attempts for one recipient.
	RetryPause time.Duration

	// FatalThreshold is the number of consecutive failed recipients that
	// forces the campaign to Failed.
	FatalThreshold int

	// ProgressTimeout fails a campaign that has made no forward progress
	// for this long (stuck in throttle backoff, for example). 0 disables.
	ProgressTimeout time.Duration

	// Scope is "user" (campaigns of one user share quota counters) or
	// "campaign" (each campaign gets its own counters).
	Scope string

	// RateLimit is the default quota set, used when a campaign does not
	// carry its own.
	RateLimit ratelimit.Config

	// Denylist overrides the classifier's bounce-indicator substrings.
	// nil keeps the built-in list; empty disables the heuristic.
	Denylist []string

	// ReconcileSpec is the cron schedule of the background sweep that
	// fails orphaned Running rows and evicts idle limiter state.
	ReconcileSpec string

	// StaleAge is how long limiter state may sit idle before eviction.
	StaleAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryPause <= 0 {
		c.RetryPause = 3 * time.Second
	}
	if c.FatalThreshold <= 0 {
		c.FatalThreshold = 5
	}
	if c.Scope == "" {
		c.Scope = ScopeUser
	}
	if c.ReconcileSpec == "" {
		c.ReconcileSpec = "@every 1m"
	}
	if c.StaleAge <= 0 {
		c.StaleAge = 48 * time.Hour
	}
	return c
}

// CampaignSpec is everything needed to launch one campaign. Subjects and
// Froms are rotated per send; Body arrives pre-rendered and is passed
// through untouched.
type CampaignSpec struct {
	CampaignID string
	UserID     string

	Subjects []string
	Froms    []sender.Identity
	Body     string

	// RateLimit overrides the dispatcher default for this run. Loaded
	// once at start; changes never affect a running campaign.
	RateLimit *ratelimit.Config
}

// RecipientSource is a finite, ordered, resumable recipient sequence.
// At must be cheap and stable: the same index always yields the same
// address within one run.
type RecipientSource interface {
	Len() int
	At(i int) string
}

// SliceSource adapts an in-memory address list.
type SliceSource []string

func (s SliceSource) Len() int        { return len(s) }
func (s SliceSource) At(i int) string { return s[i] }

// Event payloads carried in eventbus.Event.Data.

type OutcomeEvent struct {
	Recipient      string `json:"recipient"`
	Classification string `json:"classification"`
	Reason         string `json:"reason,omitempty"`
	Cursor         int    `json:"cursor"`
}

type ProgressEvent struct {
	Status          string `json:"status"`
	TotalRecipients int    `json:"total_recipients"`
	TotalSent       int    `json:"total_sent"`
	TotalFailed     int    `json:"total_failed"`
	TotalBounced    int    `json:"total_bounced"`
	Cursor          int    `json:"cursor"`
	LastError       string `json:"last_error,omitempty"`
}

type ThrottleEvent struct {
	Reason string        `json:"reason"`
	Wait   time.Duration `json:"wait"`
}
