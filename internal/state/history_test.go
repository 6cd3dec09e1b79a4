package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"grimm.is/ddnsfw/internal/clock"
)

func newTestHistory(t *testing.T) (*History, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	h, err := OpenHistory(HistoryOptions{Path: ":memory:", Clock: clk})
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h, clk
}

func TestHistory_BeginFinish(t *testing.T) {
	h, clk := newTestHistory(t)
	ctx := context.Background()

	if err := h.BeginRun(ctx, "r1", false); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	clk.Advance(2 * time.Second)
	err := h.FinishRun(ctx, "r1", RunSummary{
		Outcome: "ok", Entries: 3, Unresolved: 1, Added: 2, Removed: 1, Generation: 7,
	})
	if err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	r, err := h.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !r.Finished() {
		t.Fatal("expected run to be finished")
	}
	if got := r.FinishedAt.Sub(r.StartedAt); got != 2*time.Second {
		t.Errorf("duration = %v, want 2s", got)
	}
	if r.Outcome != "ok" || r.Added != 2 || r.Removed != 1 || r.Unresolved != 1 || r.Generation != 7 {
		t.Errorf("unexpected summary: %+v", r.RunSummary)
	}
}

func TestHistory_FinishUnknown(t *testing.T) {
	h, _ := newTestHistory(t)
	err := h.FinishRun(context.Background(), "missing", RunSummary{Outcome: "ok"})
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := h.Get(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound from Get, got %v", err)
	}
}

func TestHistory_Unfinished(t *testing.T) {
	h, clk := newTestHistory(t)
	ctx := context.Background()

	// r1 crashed, r2 finished, r3 is the current pass.
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := h.BeginRun(ctx, id, false); err != nil {
			t.Fatalf("BeginRun %s failed: %v", id, err)
		}
		clk.Advance(time.Minute)
	}
	if err := h.FinishRun(ctx, "r2", RunSummary{Outcome: "ok"}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	runs, err := h.Unfinished(ctx, "r3")
	if err != nil {
		t.Fatalf("Unfinished failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Fatalf("expected [r1], got %+v", runs)
	}

	if err := h.MarkAbandoned(ctx, []string{"r1"}); err != nil {
		t.Fatalf("MarkAbandoned failed: %v", err)
	}
	runs, err = h.Unfinished(ctx, "r3")
	if err != nil {
		t.Fatalf("Unfinished failed: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no unfinished runs after MarkAbandoned, got %+v", runs)
	}
	r, _ := h.Get(ctx, "r1")
	if r.Outcome != OutcomeAbandoned {
		t.Errorf("outcome = %q, want %q", r.Outcome, OutcomeAbandoned)
	}
}

func TestHistory_LastRunsAndPrune(t *testing.T) {
	h, clk := newTestHistory(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("r%02d", i)
		if err := h.BeginRun(ctx, id, i%2 == 0); err != nil {
			t.Fatalf("BeginRun failed: %v", err)
		}
		if err := h.FinishRun(ctx, id, RunSummary{Outcome: "ok"}); err != nil {
			t.Fatalf("FinishRun failed: %v", err)
		}
		clk.Advance(time.Second)
	}

	runs, err := h.LastRuns(ctx, 3)
	if err != nil {
		t.Fatalf("LastRuns failed: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "r09" || runs[2].ID != "r07" {
		t.Fatalf("unexpected order: %+v", runs)
	}
	if runs[1].DryRun != true {
		t.Errorf("r08 should be a dry run")
	}

	n, err := h.Prune(ctx, 4)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 6 {
		t.Errorf("pruned %d rows, want 6", n)
	}
	runs, _ = h.LastRuns(ctx, 100)
	if len(runs) != 4 || runs[3].ID != "r06" {
		t.Fatalf("unexpected runs after prune: %+v", runs)
	}
}

func TestHistory_FilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "history.db")
	ctx := context.Background()

	h, err := OpenHistory(HistoryOptions{Path: path})
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	if err := h.BeginRun(ctx, "crashed", false); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	h.Close()

	h, err = OpenHistory(HistoryOptions{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer h.Close()

	runs, err := h.Unfinished(ctx, "")
	if err != nil {
		t.Fatalf("Unfinished failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "crashed" {
		t.Fatalf("expected crashed run to survive reopen, got %+v", runs)
	}
}
