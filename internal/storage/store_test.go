package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"mailblast/internal/campaign"
	logx "mailblast/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "mailblast.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s store: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func eachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			fn(t, openTestStore(t, driver))
		})
	}
}

func TestSaveRunRoundTrip(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
		run := campaign.Run{
			CampaignID:      "camp-1",
			UserID:          "user-1",
			RunID:           "run-1",
			Status:          campaign.StatusRunning,
			TotalRecipients: 100,
			TotalSent:       40,
			TotalFailed:     2,
			TotalBounced:    1,
			Cursor:          43,
			StartedAt:       started,
			UpdatedAt:       started.Add(time.Minute),
		}
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}

		got, ok, err := st.GetRun(ctx, "camp-1")
		if err != nil || !ok {
			t.Fatalf("GetRun: ok=%v err=%v", ok, err)
		}
		if got.RunID != "run-1" || got.Status != campaign.StatusRunning || got.Cursor != 43 {
			t.Fatalf("round trip mismatch: %+v", got)
		}
		if !got.StartedAt.Equal(started) {
			t.Fatalf("StartedAt = %v, want %v", got.StartedAt, started)
		}

		// Upsert: same campaign, new totals.
		run.TotalSent = 99
		run.Cursor = 100
		run.Status = campaign.StatusCompleted
		run.CompletedAt = started.Add(time.Hour)
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun upsert: %v", err)
		}
		got, _, _ = st.GetRun(ctx, "camp-1")
		if got.TotalSent != 99 || got.Status != campaign.StatusCompleted {
			t.Fatalf("upsert did not replace row: %+v", got)
		}

		runs, err := st.ListRuns(ctx)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if len(runs) != 1 {
			t.Fatalf("ListRuns returned %d runs, want 1", len(runs))
		}
	})
}

func TestGetRunMissing(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		_, ok, err := st.GetRun(context.Background(), "nope")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if ok {
			t.Fatal("GetRun reported a run that was never saved")
		}
	})
}

func TestOutcomesFilterAndLimit(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
		for i := 0; i < 10; i++ {
			cls := "delivered"
			if i%3 == 0 {
				cls = "bounced"
			}
			rec := OutcomeRecord{
				ID:             fmt.Sprintf("o-%d", i),
				CampaignID:     "camp-1",
				RunID:          "run-1",
				Recipient:      fmt.Sprintf("r%d@example.com", i),
				Classification: cls,
				At:             at.Add(time.Duration(i) * time.Second),
			}
			if err := st.AppendOutcome(ctx, rec); err != nil {
				t.Fatalf("AppendOutcome: %v", err)
			}
		}
		// Different campaign, must never surface.
		if err := st.AppendOutcome(ctx, OutcomeRecord{ID: "x", CampaignID: "camp-2", Recipient: "z@example.com", Classification: "delivered", At: at}); err != nil {
			t.Fatalf("AppendOutcome: %v", err)
		}

		all, err := st.ListOutcomes(ctx, "camp-1", "", 0)
		if err != nil {
			t.Fatalf("ListOutcomes: %v", err)
		}
		if len(all) != 10 {
			t.Fatalf("got %d outcomes, want 10", len(all))
		}

		bounced, err := st.ListOutcomes(ctx, "camp-1", "bounced", 0)
		if err != nil {
			t.Fatalf("ListOutcomes bounced: %v", err)
		}
		if len(bounced) != 4 {
			t.Fatalf("got %d bounced, want 4", len(bounced))
		}

		last, err := st.ListOutcomes(ctx, "camp-1", "", 3)
		if err != nil {
			t.Fatalf("ListOutcomes limited: %v", err)
		}
		if len(last) != 3 {
			t.Fatalf("got %d outcomes, want 3", len(last))
		}
		// Newest last.
		if last[2].ID != "o-9" {
			t.Fatalf("last record = %s, want o-9", last[2].ID)
		}
	})
}

func TestBouncedRecipients(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		at := time.Now().UTC()
		recs := []OutcomeRecord{
			{ID: "1", CampaignID: "camp-1", Recipient: "a@example.com", Classification: "bounced", At: at},
			{ID: "2", CampaignID: "camp-1", Recipient: "b@example.com", Classification: "delivered", At: at},
			{ID: "3", CampaignID: "camp-1", Recipient: "a@example.com", Classification: "bounced", At: at},
			{ID: "4", CampaignID: "camp-2", Recipient: "c@example.com", Classification: "bounced", At: at},
		}
		for _, rec := range recs {
			if err := st.AppendOutcome(ctx, rec); err != nil {
				t.Fatalf("AppendOutcome: %v", err)
			}
		}

		set, err := st.BouncedRecipients(ctx, "camp-1")
		if err != nil {
			t.Fatalf("BouncedRecipients: %v", err)
		}
		if len(set) != 1 {
			t.Fatalf("got %d bounced recipients, want 1", len(set))
		}
		if _, ok := set["a@example.com"]; !ok {
			t.Fatal("a@example.com missing from bounced set")
		}
	})
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "mailblast.db")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	run := campaign.Run{CampaignID: "camp-1", RunID: "run-1", Status: campaign.StatusStopped, Cursor: 7, UpdatedAt: time.Now().UTC()}
	if err := st.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := st.AppendOutcome(ctx, OutcomeRecord{ID: "1", CampaignID: "camp-1", Recipient: "a@example.com", Classification: "bounced", At: time.Now().UTC()}); err != nil {
		t.Fatalf("AppendOutcome: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	got, ok, err := st.GetRun(ctx, "camp-1")
	if err != nil || !ok {
		t.Fatalf("GetRun after reopen: ok=%v err=%v", ok, err)
	}
	if got.Cursor != 7 || got.Status != campaign.StatusStopped {
		t.Fatalf("run not restored: %+v", got)
	}
	set, err := st.BouncedRecipients(ctx, "camp-1")
	if err != nil || len(set) != 1 {
		t.Fatalf("outcomes not restored: set=%v err=%v", set, err)
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	st := openTestStore(t, "file")
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := st.SaveRun(context.Background(), campaign.Run{CampaignID: "camp-1"}); err != ErrClosed {
		t.Fatalf("SaveRun on closed store: %v, want ErrClosed", err)
	}
	if err := st.AppendOutcome(context.Background(), OutcomeRecord{ID: "1"}); err != ErrClosed {
		t.Fatalf("AppendOutcome on closed store: %v, want ErrClosed", err)
	}
}
