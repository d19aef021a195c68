package backup

import (
	"path/filepath"
	"testing"
	"time"

	"backo/internal/db"
	"backo/internal/repository"
)

func setupDB(t *testing.T) {
	t.Helper()

	if err := db.Init(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("db init: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
}

// newTestTracker returns a tracker on a fake clock plus the function that
// advances it.
func newTestTracker(t *testing.T) (*Tracker, func(d time.Duration)) {
	t.Helper()

	repo := repository.NewExecutionRepository()
	execution, err := repo.Create(1, "")
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	current := time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(repo, execution.ID)
	tracker.startTime = current
	tracker.lastUpdate = current
	tracker.now = func() time.Time { return current }

	return tracker, func(d time.Duration) { current = current.Add(d) }
}

func TestTrackerAdvance(t *testing.T) {
	setupDB(t)
	tracker, tick := newTestTracker(t)

	for i := 0; i < 3; i++ {
		tick(time.Second)
		if err := tracker.Advance(100, "file.txt"); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	if tracker.ProcessedFiles() != 3 {
		t.Errorf("got %d processed files, want 3", tracker.ProcessedFiles())
	}
	if tracker.ProcessedSize() != 300 {
		t.Errorf("got %d processed bytes, want 300", tracker.ProcessedSize())
	}
	if speed := tracker.AverageSpeed(); speed != 100 {
		t.Errorf("got average speed %.2f, want 100", speed)
	}

	execution, err := repository.NewExecutionRepository().GetByID(tracker.executionID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if execution.ProcessedFiles != 3 || execution.ProcessedSize != 300 {
		t.Errorf("persisted progress %d/%d, want 3/300",
			execution.ProcessedFiles, execution.ProcessedSize)
	}
	if execution.CurrentFile != "file.txt" {
		t.Errorf("persisted current file %q, want file.txt", execution.CurrentFile)
	}
}

func TestTrackerSpeedWindowIsBounded(t *testing.T) {
	setupDB(t)
	tracker, tick := newTestTracker(t)

	// Ramp the throughput so the window's content is distinguishable
	// from the full history.
	for i := 1; i <= speedWindow+5; i++ {
		tick(time.Second)
		if err := tracker.Advance(int64(i*100), "f"); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	if len(tracker.speedSamples) != speedWindow {
		t.Fatalf("got %d samples, want %d", len(tracker.speedSamples), speedWindow)
	}

	// Last 10 samples are 600..1500 B/s, mean 1050.
	if speed := tracker.AverageSpeed(); speed != 1050 {
		t.Errorf("got average speed %.2f, want 1050", speed)
	}
}

func TestTrackerSkipsNonPositiveDelta(t *testing.T) {
	setupDB(t)
	tracker, tick := newTestTracker(t)

	// Clock does not move: no sample, but the counters still advance.
	if err := tracker.Advance(100, "a"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(tracker.speedSamples) != 0 {
		t.Fatalf("expected no sample on zero delta, got %d", len(tracker.speedSamples))
	}
	if tracker.ProcessedFiles() != 1 || tracker.ProcessedSize() != 100 {
		t.Errorf("counters not advanced: %d/%d", tracker.ProcessedFiles(), tracker.ProcessedSize())
	}

	tick(2 * time.Second)
	if err := tracker.Advance(100, "b"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(tracker.speedSamples) != 1 {
		t.Fatalf("expected one sample, got %d", len(tracker.speedSamples))
	}
	if speed := tracker.AverageSpeed(); speed != 50 {
		t.Errorf("got average speed %.2f, want 50", speed)
	}
}

func TestTrackerETA(t *testing.T) {
	setupDB(t)
	tracker, tick := newTestTracker(t)

	if eta := tracker.ETA(1000); eta != nil {
		t.Errorf("expected nil ETA before any sample, got %v", *eta)
	}

	tick(time.Second)
	if err := tracker.Advance(100, "a"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// 100 B/s average, 900 bytes remaining.
	eta := tracker.ETA(1000)
	if eta == nil {
		t.Fatal("expected an ETA")
	}
	if *eta != 9*time.Second {
		t.Errorf("got ETA %v, want 9s", *eta)
	}

	// Overshoot clamps to zero remaining.
	eta = tracker.ETA(50)
	if eta == nil || *eta != 0 {
		t.Errorf("got ETA %v, want 0s", eta)
	}
}
