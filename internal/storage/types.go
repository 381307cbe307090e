package storage

import (
	"context"
	"errors"
	"time"

	"mailblast/internal/campaign"
)

var ErrClosed = errors.New("store closed")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl append log)
//   - "sqlite": SQLite database file
//
// If Driver is empty, "file" is assumed: the dispatcher cannot run without
// durable campaign state.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OutcomeRecord is the append-only per-recipient attempt result.
// Written once per recipient per attempt; never updated.
type OutcomeRecord struct {
	ID             string    `json:"id"`
	CampaignID     string    `json:"campaign_id"`
	RunID          string    `json:"run_id"`
	Recipient      string    `json:"recipient"`
	Classification string    `json:"classification"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}

// Store is the persistence API used by the dispatcher and the control API.
//
// SaveRun must be an atomic read-modify-write of the whole run row; the
// dispatcher always writes cumulative totals, never deltas, so a replayed
// flush after a crash is harmless.
type Store interface {
	SaveRun(ctx context.Context, run campaign.Run) error
	GetRun(ctx context.Context, campaignID string) (campaign.Run, bool, error)
	ListRuns(ctx context.Context) ([]campaign.Run, error)

	AppendOutcome(ctx context.Context, rec OutcomeRecord) error
	// ListOutcomes returns the most recent records for a campaign, newest
	// last, optionally filtered by classification. limit <= 0 means all.
	ListOutcomes(ctx context.Context, campaignID, classification string, limit int) ([]OutcomeRecord, error)
	// BouncedRecipients returns the set of addresses that ever bounced for
	// a campaign, used to suppress them on relaunch.
	BouncedRecipients(ctx context.Context, campaignID string) (map[string]struct{}, error)

	Close() error
}
