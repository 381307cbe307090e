package campaign

import (
	"errors"
	"sync"
	"testing"
)

func TestTryStartEnforcesSingleWorker(t *testing.T) {
	r := NewRegistry()

	st, err := r.TryStart(Run{CampaignID: "c1", TotalRecipients: 10})
	if err != nil {
		t.Fatalf("first TryStart: %v", err)
	}
	if got := st.Snapshot().Status; got != StatusRunning {
		t.Fatalf("status after TryStart = %v, want running", got)
	}

	if _, err := r.TryStart(Run{CampaignID: "c1"}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second TryStart err = %v, want ErrAlreadyRunning", err)
	}

	r.Unregister("c1")
	if _, err := r.TryStart(Run{CampaignID: "c1"}); err != nil {
		t.Fatalf("TryStart after Unregister: %v", err)
	}
}

func TestTryStartIsRaceSafe(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.TryStart(Run{CampaignID: "c1"}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d concurrent TryStarts won, want exactly 1", wins)
	}
}

func TestSignalValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Signal("absent", SignalStop); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("signal on absent campaign err = %v, want ErrNotRunning", err)
	}

	st, err := r.TryStart(Run{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("TryStart: %v", err)
	}

	// Resume while running is invalid.
	if err := r.Signal("c1", SignalResume); !errors.Is(err, ErrBadSignal) {
		t.Fatalf("resume while running err = %v, want ErrBadSignal", err)
	}

	if err := r.Signal("c1", SignalPause); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := st.Signal(); got != SignalPause {
		t.Fatalf("signal = %v, want pause", got)
	}

	// Worker acknowledges the pause.
	st.Update(func(run *Run) { run.Status = StatusPaused })

	if err := r.Signal("c1", SignalPause); !errors.Is(err, ErrBadSignal) {
		t.Fatalf("pause while paused err = %v, want ErrBadSignal", err)
	}
	if err := r.Signal("c1", SignalResume); err != nil {
		t.Fatalf("resume while paused: %v", err)
	}

	st.Update(func(run *Run) { run.Status = StatusRunning })

	if err := r.Signal("c1", SignalStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-st.StopChan():
	default:
		t.Fatal("StopChan should be closed after a stop signal")
	}

	// Double stop: the state is still running until the worker observes it,
	// so a second stop is accepted and must not close the channel twice.
	if err := r.Signal("c1", SignalStop); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestTransitions(t *testing.T) {
	valid := []struct{ from, to Status }{
		{StatusReady, StatusRunning},
		{StatusRunning, StatusPaused},
		{StatusPaused, StatusRunning},
		{StatusRunning, StatusStopped},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusPaused, StatusStopped},
		{StatusStopped, StatusRunning},
		{StatusFailed, StatusRunning},
		{StatusCompleted, StatusRunning},
	}
	for _, tc := range valid {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("%v -> %v should be allowed", tc.from, tc.to)
		}
	}

	invalid := []struct{ from, to Status }{
		{StatusReady, StatusPaused},
		{StatusStopped, StatusPaused},
		{StatusCompleted, StatusCompleted},
		{StatusPaused, StatusCompleted},
		{StatusRunning, StatusReady},
	}
	for _, tc := range invalid {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("%v -> %v should be rejected", tc.from, tc.to)
		}
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	st, _ := r.TryStart(Run{CampaignID: "c1", TotalRecipients: 5})

	st.Update(func(run *Run) {
		run.TotalSent = 3
		run.Cursor = 3
	})

	snap, ok := r.Get("c1")
	if !ok {
		t.Fatal("expected active campaign")
	}
	if snap.TotalSent != 3 || snap.Cursor != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}

	// Mutating the snapshot must not leak back.
	snap.TotalSent = 99
	if got := st.Snapshot().TotalSent; got != 3 {
		t.Fatalf("snapshot mutation leaked, TotalSent = %d", got)
	}
}
