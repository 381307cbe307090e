package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher.
const (
	TypeCampaignStarted   = "campaign.started"
	TypeCampaignPaused    = "campaign.paused"
	TypeCampaignResumed   = "campaign.resumed"
	TypeCampaignStopped   = "campaign.stopped"
	TypeCampaignCompleted = "campaign.completed"
	TypeCampaignFailed    = "campaign.failed"
	TypeRecipientOutcome  = "recipient.outcome"
	TypeBatchFlushed      = "batch.flushed"
	TypeThrottled         = "throttled"
)

// Event is a lightweight, in-memory progress signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// The bus exists purely for low-latency UI feedback; the storage layer is
// the source of truth for recoverable state, so a dropped event is never
// retried. Data should be small and JSON-serializable.
type Event struct {
	Type       string
	CampaignID string
	Time       time.Time
	Data       any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a stream of events for one campaign, or for all
	// campaigns when campaignID is empty.
	Subscribe(campaignID string, buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	campaignID string // empty = all campaigns
	ch         chan Event
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.campaignID != "" && s.campaignID != e.CampaignID {
			continue
		}
		targets = append(targets, s.ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(campaignID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = &subscriber{campaignID: campaignID, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
