package sender

import (
	"context"

	"mailblast/internal/classify"
)

// Identity is a sending identity (display name + mailbox).
type Identity struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Message is one fully rendered per-recipient send request. Subject and
// body arrive pre-rendered; this layer never templates anything.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	From      Identity
}

// Result is the transport outcome of one send call. Verdict carries an
// authoritative delivery signal when the downstream service provides one;
// most drivers leave it empty and let classification fall back to
// heuristics.
type Result struct {
	StatusCode    int
	Verdict       classify.Verdict
	VerdictReason string
}

// Sender pushes a single message through the external mail service.
//
// Implementations must treat the downstream as slow and unreliable: honor
// ctx, apply their own request timeouts, and wrap auth-class failures with
// Auth() so the dispatcher can fail the campaign instead of looping.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}
