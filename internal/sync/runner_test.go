package sync

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/mailarchive/internal/model"
)

func TestRunDueSyncsEachAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := f.account(t, "good", "archive@company.com", false)
	bad := f.account(t, "bad", "broken@company.com", false)
	f.dialer.conns[good.Username] = newFakeConn(3)

	r := NewRunner(f.engine)
	summary, err := r.RunDue(ctx, fixedNow, "")
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 || len(summary.Results) != 2 {
		t.Fatalf("summary = %+v", summary)
	}

	for _, res := range summary.Results {
		switch res.Account.ID {
		case good.ID:
			if res.Err != nil || res.Report == nil || len(res.Report.Archived) != 3 {
				t.Fatalf("good result = %+v", res)
			}
		case bad.ID:
			if res.Err == nil {
				t.Fatalf("bad account should fail")
			}
		}
	}

	synced, err := f.repo.GetAccount(ctx, good.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if synced.LastSyncAt == nil || !synced.LastSyncAt.Equal(fixedNow) {
		t.Fatalf("last_sync_at = %v", synced.LastSyncAt)
	}
	failed, _ := f.repo.GetAccount(ctx, bad.ID)
	if failed.LastSyncAt != nil {
		t.Fatalf("failed account must not be stamped")
	}

	statuses := r.Statuses()
	if len(statuses) != 2 || statuses[0].State != SyncIdle || statuses[1].State != SyncError || statuses[1].Error == nil {
		t.Fatalf("statuses = %+v", statuses)
	}
}

func TestDueAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fresh := f.account(t, "fresh", "a@company.com", false)
	stale := f.account(t, "stale", "b@company.com", false)
	never := f.account(t, "never", "c@company.com", false)

	if err := f.repo.MarkAccountSynced(ctx, fresh.ID, fixedNow.Add(-10*time.Minute)); err != nil {
		t.Fatalf("MarkAccountSynced: %v", err)
	}
	if err := f.repo.MarkAccountSynced(ctx, stale.ID, fixedNow.Add(-2*time.Hour)); err != nil {
		t.Fatalf("MarkAccountSynced: %v", err)
	}

	r := NewRunner(f.engine)
	due, err := r.DueAccounts(ctx, fixedNow, "")
	if err != nil {
		t.Fatalf("DueAccounts: %v", err)
	}
	names := map[string]bool{}
	for _, a := range due {
		names[a.Name] = true
	}
	if len(due) != 2 || !names[stale.Name] || !names[never.Name] {
		t.Fatalf("due = %v", names)
	}

	forced, err := r.DueAccounts(ctx, fixedNow, model.SyncHourly)
	if err != nil {
		t.Fatalf("DueAccounts: %v", err)
	}
	if len(forced) != 3 {
		t.Fatalf("an explicit interval selects all matching accounts, got %d", len(forced))
	}
	none, _ := r.DueAccounts(ctx, fixedNow, model.SyncDaily)
	if len(none) != 0 {
		t.Fatalf("daily = %d", len(none))
	}
}

func TestRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "archive", "archive@company.com", false)
	f.dialer.conns[a.Username] = newFakeConn(1)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(f.engine)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Hour) }()

	deadline := time.After(5 * time.Second)
	for {
		statuses := r.Statuses()
		if len(statuses) == 1 && statuses[0].State == SyncIdle {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("first pass did not complete")
		case <-time.After(10 * time.Millisecond):
		}
	}

	r.Trigger()
	r.Trigger()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestSyncStateString(t *testing.T) {
	if SyncIdle.String() != "idle" || SyncRunning.String() != "running" || SyncError.String() != "error" {
		t.Fatalf("unexpected state names")
	}
}
