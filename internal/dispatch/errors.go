package dispatch

import "errors"

var (
	ErrNotStarted      = errors.New("dispatcher not started")
	ErrUnknownCampaign = errors.New("unknown campaign")
	ErrNoRecipients    = errors.New("campaign has no recipients")
	ErrNoIdentity      = errors.New("campaign needs at least one sending identity and subject")
)
