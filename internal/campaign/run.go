package campaign

import "time"

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no worker should be attached in this state.
func (s Status) Terminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusFailed:
		return true
	}
	return s == StatusReady
}

// CanTransition validates a lifecycle edge.
//
// Stopped and Failed campaigns may be started again (resume-from-cursor);
// Completed campaigns may be relaunched explicitly (counters reset). Both
// are modeled as a fresh entry into Running.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusReady, StatusStopped, StatusFailed, StatusCompleted:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusPaused || to == StatusStopped || to == StatusCompleted || to == StatusFailed
	case StatusPaused:
		return to == StatusRunning || to == StatusStopped || to == StatusFailed
	}
	return false
}

// Run is the progress record for one campaign launch.
//
// While a worker is active it is the sole mutator; everyone else sees
// snapshots. The record is persisted at every batch flush and on every
// status change so a restart can report last-known state and resume from
// Cursor.
type Run struct {
	CampaignID string `json:"campaign_id"`
	UserID     string `json:"user_id"`

	// RunID distinguishes launches of the same campaign in outcome records.
	RunID string `json:"run_id"`

	Status Status `json:"status"`

	TotalRecipients int `json:"total_recipients"`
	TotalSent       int `json:"total_sent"`
	TotalFailed     int `json:"total_failed"`
	TotalBounced    int `json:"total_bounced"`

	// Cursor is the index of the next unprocessed recipient. It only moves
	// forward within a launch.
	Cursor int `json:"cursor"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`

	LastError string `json:"last_error,omitempty"`
}

// Attempted is the number of recipients fully processed so far.
func (r Run) Attempted() int { return r.TotalSent + r.TotalFailed + r.TotalBounced }
