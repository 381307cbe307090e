package server

import (
	"sync"
	"time"

	"mailblast/internal/eventbus"
)

// LogEntry is one line of a campaign's recent-activity feed.
type LogEntry struct {
	Time time.Time `json:"time"`
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
}

// logFeed keeps a bounded ring of recent progress events per campaign,
// fed from the bus. It is a UI convenience: dropped events are fine, the
// outcome ledger in storage is the durable record.
type logFeed struct {
	bus  eventbus.Bus
	size int

	mu    sync.Mutex
	rings map[string][]LogEntry

	unsub func()
	done  chan struct{}
}

func newLogFeed(bus eventbus.Bus, size int) *logFeed {
	return &logFeed{bus: bus, size: size, rings: map[string][]LogEntry{}}
}

func (f *logFeed) start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done != nil {
		return
	}

	ch, unsub := f.bus.Subscribe("", 256)
	f.unsub = unsub
	done := make(chan struct{})
	f.done = done

	go func() {
		defer close(done)
		for ev := range ch {
			f.append(ev)
		}
	}()
}

func (f *logFeed) stop() {
	f.mu.Lock()
	unsub := f.unsub
	done := f.done
	f.unsub = nil
	f.done = nil
	f.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if done != nil {
		<-done
	}
}

func (f *logFeed) append(ev eventbus.Event) {
	if ev.CampaignID == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ring := append(f.rings[ev.CampaignID], LogEntry{Time: ev.Time, Type: ev.Type, Data: ev.Data})
	if len(ring) > f.size {
		ring = ring[len(ring)-f.size:]
	}
	f.rings[ev.CampaignID] = ring
}

// entries returns a copy of the campaign's feed, oldest first.
func (f *logFeed) entries(campaignID string) []LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	ring := f.rings[campaignID]
	out := make([]LogEntry, len(ring))
	copy(out, ring)
	return out
}
