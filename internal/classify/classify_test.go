package classify

import (
	"errors"
	"testing"
)

func TestValidAddress(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"user@example.com", true},
		{"a.b+c@mail.example.org", true},
		{"no-at-sign.com", false},
		{"two@@example.com", false},
		{"@example.com", false},
		{"user@", false},
		{"user@nodot", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidAddress(tc.addr); got != tc.want {
			t.Fatalf("ValidAddress(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	c := New(nil)

	// Invalid format wins over everything else.
	cls, reason := c.Classify(Attempt{Recipient: "no-at-sign.com", Sent: true, StatusCode: 200, Verdict: VerdictDelivered})
	if cls != Bounced || reason != "invalid format" {
		t.Fatalf("invalid format: got (%v, %q)", cls, reason)
	}

	// Transport error beats the verdict: nothing was confirmed.
	cls, _ = c.Classify(Attempt{Recipient: "user@example.com", Err: errors.New("dial timeout")})
	if cls != Failed {
		t.Fatalf("transport error: got %v, want Failed", cls)
	}

	// Bad HTTP status without a verdict is Failed, not Bounced.
	cls, _ = c.Classify(Attempt{Recipient: "user@example.com", Sent: true, StatusCode: 500})
	if cls != Failed {
		t.Fatalf("status 500: got %v, want Failed", cls)
	}

	// Authoritative verdict is used verbatim, even for denylisted addresses.
	cls, _ = c.Classify(Attempt{Recipient: "test@example.com", Sent: true, StatusCode: 200, Verdict: VerdictDelivered})
	if cls != Delivered {
		t.Fatalf("authoritative delivered: got %v", cls)
	}
	cls, reason = c.Classify(Attempt{Recipient: "user@example.com", Sent: true, StatusCode: 200, Verdict: VerdictBounced, VerdictReason: "mailbox full"})
	if cls != Bounced || reason != "mailbox full" {
		t.Fatalf("authoritative bounced: got (%v, %q)", cls, reason)
	}

	// Heuristic denylist only applies without a verdict.
	cls, _ = c.Classify(Attempt{Recipient: "throwaway123@example.com", Sent: true, StatusCode: 200})
	if cls != Bounced {
		t.Fatalf("denylist hit: got %v, want Bounced", cls)
	}

	// Clean address, clean send.
	cls, _ = c.Classify(Attempt{Recipient: "user@example.com", Sent: true, StatusCode: 200})
	if cls != Delivered {
		t.Fatalf("clean send: got %v, want Delivered", cls)
	}

	// Unknown verdict is surfaced as Unknown.
	cls, _ = c.Classify(Attempt{Recipient: "user@example.com", Sent: true, StatusCode: 200, Verdict: VerdictUnknown})
	if cls != Unknown {
		t.Fatalf("unknown verdict: got %v", cls)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := New([]string{"bad"})
	a := Attempt{Recipient: "bad-address@example.com", Sent: true, StatusCode: 200}

	cls1, r1 := c.Classify(a)
	for i := 0; i < 50; i++ {
		cls2, r2 := c.Classify(a)
		if cls1 != cls2 || r1 != r2 {
			t.Fatalf("classification not deterministic: (%v,%q) vs (%v,%q)", cls1, r1, cls2, r2)
		}
	}
}

func TestEmptyDenylistDisablesHeuristic(t *testing.T) {
	c := New([]string{})
	cls, _ := c.Classify(Attempt{Recipient: "test@example.com", Sent: true, StatusCode: 200})
	if cls != Delivered {
		t.Fatalf("empty denylist should not bounce: got %v", cls)
	}
}
