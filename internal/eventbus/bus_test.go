package eventbus

import (
	"testing"
	"time"
)

func TestCampaignFilter(t *testing.T) {
	b := New()

	all, unsubAll := b.Subscribe("", 8)
	defer unsubAll()
	only2, unsub2 := b.Subscribe("c2", 8)
	defer unsub2()

	b.Publish(Event{Type: TypeRecipientOutcome, CampaignID: "c1"})
	b.Publish(Event{Type: TypeRecipientOutcome, CampaignID: "c2"})

	if got := drain(all); got != 2 {
		t.Fatalf("wildcard subscriber got %d events, want 2", got)
	}
	if got := drain(only2); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("c1", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Buffer is 1; everything past the first event must be dropped,
		// not block the publisher.
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeThrottled, CampaignID: "c1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("c1", 4)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TypeRecipientOutcome, CampaignID: "c1"})
}

func TestPublishStampsTime(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 1)
	defer unsub()

	b.Publish(Event{Type: TypeCampaignStarted, CampaignID: "c1"})
	e := <-ch
	if e.Time.IsZero() {
		t.Fatal("expected Publish to stamp a zero Time")
	}
}

func drain(ch <-chan Event) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}
