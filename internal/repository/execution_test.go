package repository

import (
	"path/filepath"
	"testing"
	"time"

	"backo/internal/db"
	"backo/internal/model"
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

func backdate(t *testing.T, executionID uint, startTime time.Time) {
	t.Helper()

	err := db.DB.Model(&model.Execution{}).
		Where("id = ?", executionID).
		Update("start_time", startTime).Error
	if err != nil {
		t.Fatalf("backdate execution: %v", err)
	}
}

func TestExecutionFinish_FirstWriterWins(t *testing.T) {
	setupDB(t)
	repo := NewExecutionRepository()

	execution, err := repo.Create(1, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	won, err := repo.Finish(execution.ID, model.ExecutionStopped, "", "")
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}
	if !won {
		t.Fatal("first finish should win")
	}

	// A racing reaper arriving second must not overwrite the outcome.
	won, err = repo.Finish(execution.ID, model.ExecutionFailed, "Execution timed out", "")
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if won {
		t.Fatal("second finish must lose")
	}

	got, err := repo.GetByID(execution.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.ExecutionStopped {
		t.Errorf("got status %s, want stopped", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Errorf("loser's error message leaked: %q", got.ErrorMessage)
	}
	if got.EndTime == nil {
		t.Error("end time not set")
	}
}

func TestExecutionUpdateProgress_OnlyWhileRunning(t *testing.T) {
	setupDB(t)
	repo := NewExecutionRepository()

	execution, err := repo.Create(1, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.UpdateProgress(execution.ID, 2, 512, "b.txt"); err != nil {
		t.Fatalf("update progress: %v", err)
	}

	if _, err := repo.Finish(execution.ID, model.ExecutionCompleted, "", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// A straggling progress write after the terminal transition is a no-op.
	if err := repo.UpdateProgress(execution.ID, 99, 9999, "late.txt"); err != nil {
		t.Fatalf("late update: %v", err)
	}

	got, err := repo.GetByID(execution.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProcessedFiles != 2 || got.ProcessedSize != 512 || got.CurrentFile != "b.txt" {
		t.Errorf("terminal record mutated: %d/%d %q",
			got.ProcessedFiles, got.ProcessedSize, got.CurrentFile)
	}
}

func TestExecutionStaleRunning(t *testing.T) {
	setupDB(t)
	repo := NewExecutionRepository()
	now := time.Now()

	stale, err := repo.Create(1, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	backdate(t, stale.ID, now.Add(-2*time.Hour))

	fresh, err := repo.Create(2, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	finished, err := repo.Create(3, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	backdate(t, finished.ID, now.Add(-3*time.Hour))
	if _, err := repo.Finish(finished.ID, model.ExecutionCompleted, "", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := repo.StaleRunning(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("stale running: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d stale executions, want 1", len(got))
	}
	if got[0].ID != stale.ID {
		t.Errorf("got execution %d, want %d", got[0].ID, stale.ID)
	}
	_ = fresh
}

func TestExecutionList(t *testing.T) {
	setupDB(t)
	repo := NewExecutionRepository()
	now := time.Now()

	a, _ := repo.Create(1, "")
	backdate(t, a.ID, now.Add(-3*time.Hour))
	b, _ := repo.Create(1, "")
	backdate(t, b.ID, now.Add(-2*time.Hour))
	c, _ := repo.Create(2, "")
	backdate(t, c.ID, now.Add(-time.Hour))
	if _, err := repo.Finish(b.ID, model.ExecutionFailed, "boom", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	all, err := repo.List(ExecutionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d executions, want 3", len(all))
	}
	if all[0].ID != c.ID {
		t.Errorf("not ordered newest first: got %d", all[0].ID)
	}

	byJob, err := repo.List(ExecutionFilter{JobID: 1})
	if err != nil {
		t.Fatalf("list by job: %v", err)
	}
	if len(byJob) != 2 {
		t.Errorf("got %d executions for job 1, want 2", len(byJob))
	}

	failed, err := repo.List(ExecutionFilter{Status: model.ExecutionFailed})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != b.ID {
		t.Errorf("status filter returned %d rows", len(failed))
	}

	recent, err := repo.List(ExecutionFilter{Since: now.Add(-90 * time.Minute), Limit: 10})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != c.ID {
		t.Errorf("since filter returned %d rows", len(recent))
	}
}

func TestExecutionDeleteOlderThan(t *testing.T) {
	setupDB(t)
	repo := NewExecutionRepository()
	now := time.Now()

	old, _ := repo.Create(1, "/tmp/old.log")
	backdate(t, old.ID, now.AddDate(0, 0, -200))
	recent, _ := repo.Create(1, "/tmp/new.log")

	removed, err := repo.DeleteOlderThan(now.AddDate(0, 0, -180))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(removed) != 1 || removed[0].ID != old.ID {
		t.Fatalf("removed %d rows, want just the old one", len(removed))
	}
	if removed[0].LogFile != "/tmp/old.log" {
		t.Errorf("removed row lost its log file: %q", removed[0].LogFile)
	}

	left, err := repo.List(ExecutionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || left[0].ID != recent.ID {
		t.Errorf("got %d rows left, want only the recent one", len(left))
	}

	// Nothing in range is not an error.
	removed, err = repo.DeleteOlderThan(now.AddDate(0, 0, -180))
	if err != nil || len(removed) != 0 {
		t.Errorf("second delete: %d rows, err %v", len(removed), err)
	}
}

func TestExecutionGetStats(t *testing.T) {
	setupDB(t)
	repo := NewExecutionRepository()
	now := time.Now()

	seed := func(jobID uint, status model.ExecutionStatus, files, size int64) {
		t.Helper()
		execution, err := repo.Create(jobID, "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := repo.UpdateProgress(execution.ID, files, size, ""); err != nil {
			t.Fatalf("progress: %v", err)
		}
		if status != model.ExecutionRunning {
			if _, err := repo.Finish(execution.ID, status, "", ""); err != nil {
				t.Fatalf("finish: %v", err)
			}
		}
	}

	seed(1, model.ExecutionCompleted, 10, 1000)
	seed(1, model.ExecutionCompleted, 5, 500)
	seed(1, model.ExecutionFailed, 2, 200)
	seed(2, model.ExecutionStopped, 1, 100)
	seed(2, model.ExecutionRunning, 0, 0)

	stats, err := repo.GetStats(now.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.Total != 5 {
		t.Errorf("total %d, want 5", stats.Total)
	}
	if stats.Completed != 2 || stats.Failed != 1 || stats.Stopped != 1 {
		t.Errorf("outcomes %d/%d/%d, want 2/1/1",
			stats.Completed, stats.Failed, stats.Stopped)
	}
	if stats.FilesProcessed != 18 || stats.SizeProcessed != 1800 {
		t.Errorf("processed %d files / %d bytes, want 18/1800",
			stats.FilesProcessed, stats.SizeProcessed)
	}
	if stats.SuccessRate != 40 {
		t.Errorf("success rate %.1f, want 40", stats.SuccessRate)
	}

	jobStats, err := repo.GetStats(now.Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("job stats: %v", err)
	}
	if jobStats.Total != 2 || jobStats.Stopped != 1 {
		t.Errorf("job 2 stats: total %d stopped %d, want 2/1", jobStats.Total, jobStats.Stopped)
	}
}
