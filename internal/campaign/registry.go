package campaign

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("campaign already running")
	ErrNotRunning     = errors.New("campaign not running")
	ErrBadSignal      = errors.New("signal not valid in current state")
)

// Signal is a cooperative control request for a running worker.
// It never interrupts an in-flight send; the worker observes it between
// recipients and inside its capped backoff sleeps.
type Signal int

const (
	SignalNone Signal = iota
	SignalPause
	SignalResume
	SignalStop
)

func (s Signal) String() string {
	switch s {
	case SignalPause:
		return "pause"
	case SignalResume:
		return "resume"
	case SignalStop:
		return "stop"
	default:
		return "none"
	}
}

// State is the live handle for one active campaign. The owning worker is
// the only mutator of the embedded Run; control surfaces only set signals
// and read snapshots.
type State struct {
	mu  sync.Mutex
	run Run
	sig Signal

	// stopCh is closed exactly once when SignalStop arrives, so sleeps can
	// select on it instead of polling.
	stopCh   chan struct{}
	stopOnce sync.Once
}

func (st *State) Snapshot() Run {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.run
}

// Signal returns the latest control request.
func (st *State) Signal() Signal {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sig
}

// StopChan is closed when a stop has been requested.
func (st *State) StopChan() <-chan struct{} { return st.stopCh }

// Update lets the owning worker mutate the run under the state lock.
func (st *State) Update(fn func(r *Run)) Run {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.run)
	st.run.UpdatedAt = time.Now()
	return st.run
}

func (st *State) setSignal(sig Signal) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch sig {
	case SignalPause:
		if st.run.Status != StatusRunning {
			return ErrBadSignal
		}
	case SignalResume:
		if st.run.Status != StatusPaused {
			return ErrBadSignal
		}
	case SignalStop:
		// Stop is valid while Running or Paused.
		if st.run.Status != StatusRunning && st.run.Status != StatusPaused {
			return ErrBadSignal
		}
	default:
		return ErrBadSignal
	}

	st.sig = sig
	if sig == SignalStop {
		st.stopOnce.Do(func() { close(st.stopCh) })
	}
	return nil
}

// Registry is the authoritative in-memory map of active campaigns.
//
// It enforces at-most-one worker per campaign: TryStart either registers a
// fresh State or fails, and only the owning worker may Unregister. It is
// constructed once at process start and injected; nothing here is global.
type Registry struct {
	mu     sync.Mutex
	active map[string]*State
}

func NewRegistry() *Registry {
	return &Registry{active: map[string]*State{}}
}

// TryStart atomically registers campaignID as running and returns its live
// handle. It fails with ErrAlreadyRunning when a worker is already attached.
func (r *Registry) TryStart(run Run) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[run.CampaignID]; ok {
		return nil, ErrAlreadyRunning
	}

	run.Status = StatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.UpdatedAt = time.Now()

	st := &State{run: run, stopCh: make(chan struct{})}
	r.active[run.CampaignID] = st
	return st, nil
}

// Signal requests a cooperative state change on the owning worker.
func (r *Registry) Signal(campaignID string, sig Signal) error {
	r.mu.Lock()
	st, ok := r.active[campaignID]
	r.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	return st.setSignal(sig)
}

// Unregister detaches a campaign; the worker calls this on terminal states.
func (r *Registry) Unregister(campaignID string) {
	r.mu.Lock()
	delete(r.active, campaignID)
	r.mu.Unlock()
}

// Get returns a snapshot of an active campaign's run.
func (r *Registry) Get(campaignID string) (Run, bool) {
	r.mu.Lock()
	st, ok := r.active[campaignID]
	r.mu.Unlock()
	if !ok {
		return Run{}, false
	}
	return st.Snapshot(), true
}

// ActiveIDs lists campaigns that currently have a worker attached.
// The reconciler uses this to find Running rows in storage whose worker
// is gone.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}
