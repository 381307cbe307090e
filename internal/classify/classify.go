package classify

import (
	"fmt"
	"strings"
)

// Class is the terminal outcome category of one send attempt.
type Class string

const (
	Delivered Class = "delivered"
	Bounced   Class = "bounced"
	Failed    Class = "failed"
	Unknown   Class = "unknown"
)

// Verdict is an authoritative delivery signal reported by the downstream
// mail service for a specific send. VerdictNone means the service gave us
// nothing to go on.
type Verdict string

const (
	VerdictNone      Verdict = ""
	VerdictDelivered Verdict = "delivered"
	VerdictBounced   Verdict = "bounced"
	VerdictUnknown   Verdict = "unknown"
)

// Attempt is the transport-level result of one send call.
type Attempt struct {
	Recipient  string
	Sent       bool // a response was received from the downstream service
	StatusCode int  // HTTP status (or equivalent) when Sent
	Err        error

	Verdict       Verdict
	VerdictReason string
}

// DefaultDenylist is the legacy pattern list for heuristic bounce detection.
// It is a last resort, consulted only when the downstream service reports no
// authoritative verdict, and it can misclassify real addresses (anything
// containing "test"). Kept because downstream reporting depends on it.
var DefaultDenylist = []string{
	"nonexistent", "invalid", "fake", "test", "bounce",
	"spam", "trash", "disposable", "temp", "throwaway",
	"salsssaqz", "axxzexdflp",
}

// Classifier turns send attempts into outcome classes.
//
// Classify is a pure function of (Attempt, configured denylist): the same
// input always yields the same class and reason, and nothing is mutated.
type Classifier struct {
	denylist []string
}

func New(denylist []string) *Classifier {
	if denylist == nil {
		denylist = DefaultDenylist
	}
	return &Classifier{denylist: denylist}
}

// Classify resolves an attempt, in priority order:
//
//  1. syntactically invalid address  -> Bounced
//  2. transport failure / bad status -> Failed (not attempted or confirmed)
//  3. authoritative downstream verdict, used verbatim
//  4. denylist heuristic             -> Bounced
//  5. otherwise                      -> Delivered
func (c *Classifier) Classify(a Attempt) (Class, string) {
	if !ValidAddress(a.Recipient) {
		return Bounced, "invalid format"
	}

	if a.Err != nil {
		return Failed, a.Err.Error()
	}
	if !a.Sent {
		return Failed, "no response from mail service"
	}
	if a.StatusCode >= 400 {
		return Failed, fmt.Sprintf("mail service returned status %d", a.StatusCode)
	}

	switch a.Verdict {
	case VerdictDelivered:
		return Delivered, a.VerdictReason
	case VerdictBounced:
		reason := a.VerdictReason
		if reason == "" {
			reason = "recipient rejected"
		}
		return Bounced, reason
	case VerdictUnknown:
		return Unknown, a.VerdictReason
	}

	if hit := c.denylistMatch(a.Recipient); hit != "" {
		return Bounced, fmt.Sprintf("address matches %q indicator", hit)
	}

	return Delivered, ""
}

func (c *Classifier) denylistMatch(addr string) string {
	lower := strings.ToLower(addr)
	for _, pat := range c.denylist {
		if pat != "" && strings.Contains(lower, pat) {
			return pat
		}
	}
	return ""
}

// ValidAddress applies the minimal syntactic check used before any send:
// exactly one "@", a non-empty local part, and a dot somewhere in the domain.
func ValidAddress(addr string) bool {
	at := strings.Count(addr, "@")
	if at != 1 {
		return false
	}
	local, domain, _ := strings.Cut(addr, "@")
	if local == "" || domain == "" {
		return false
	}
	return strings.Contains(domain, ".")
}
