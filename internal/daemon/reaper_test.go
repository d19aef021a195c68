package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"backo/internal/db"
	"backo/internal/model"
	"backo/internal/repository"
)

func backdate(t *testing.T, executionID uint, startTime time.Time) {
	t.Helper()

	err := db.DB.Model(&model.Execution{}).
		Where("id = ?", executionID).
		Update("start_time", startTime).Error
	if err != nil {
		t.Fatalf("backdate execution: %v", err)
	}
}

func TestReapStale_FailsOrphanedExecution(t *testing.T) {
	setupDB(t)

	cfg := testConfig(t)
	d := NewDispatcher(cfg)
	r := NewReaper(cfg, d)

	repo := repository.NewExecutionRepository()
	now := time.Now()

	orphan, err := repo.Create(1, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	backdate(t, orphan.ID, now.Add(-2*cfg.WorkerTimeout))

	fresh, err := repo.Create(2, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.ReapStale(now); err != nil {
		t.Fatalf("reap: %v", err)
	}

	got, err := repo.GetByID(orphan.ID)
	if err != nil {
		t.Fatalf("get orphan: %v", err)
	}
	if got.Status != model.ExecutionFailed {
		t.Fatalf("got status %s, want failed", got.Status)
	}
	if got.ErrorMessage != "Execution timed out" {
		t.Errorf("got error message %q", got.ErrorMessage)
	}
	if got.EndTime == nil {
		t.Error("end time not set")
	}

	// The young execution is untouched even without a live worker.
	got, err = repo.GetByID(fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if got.Status != model.ExecutionRunning {
		t.Errorf("fresh execution reaped: %s", got.Status)
	}
}

func TestReapStale_SkipsLiveWorker(t *testing.T) {
	setupDB(t)

	cfg := testConfig(t)
	d := NewDispatcher(cfg)
	r := NewReaper(cfg, d)

	repo := repository.NewExecutionRepository()
	now := time.Now()

	execution, err := repo.Create(5, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	backdate(t, execution.ID, now.Add(-2*cfg.WorkerTimeout))

	// A long-running but alive worker is not an orphan.
	kill := fakeWorker(d, 5, execution.ID)
	defer kill()

	if err := r.ReapStale(now); err != nil {
		t.Fatalf("reap: %v", err)
	}

	got, err := repo.GetByID(execution.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.ExecutionRunning {
		t.Errorf("live execution reaped: %s", got.Status)
	}
}

func TestReapStale_EvictsDeadHandle(t *testing.T) {
	setupDB(t)

	cfg := testConfig(t)
	d := NewDispatcher(cfg)
	r := NewReaper(cfg, d)

	repo := repository.NewExecutionRepository()
	now := time.Now()

	execution, err := repo.Create(9, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	backdate(t, execution.ID, now.Add(-2*cfg.WorkerTimeout))

	// Worker goroutine exited without its release running (abandoned at
	// shutdown): the handle is dead but still registered.
	kill := fakeWorker(d, 9, execution.ID)
	kill()

	if err := r.ReapStale(now); err != nil {
		t.Fatalf("reap: %v", err)
	}

	got, err := repo.GetByID(execution.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.ExecutionFailed {
		t.Errorf("got status %s, want failed", got.Status)
	}
	if d.ActiveCount() != 0 {
		t.Error("dead handle not evicted")
	}
}

func TestPruneOldRecords(t *testing.T) {
	setupDB(t)

	cfg := testConfig(t)
	cfg.LogRetentionDays = 30
	d := NewDispatcher(cfg)
	r := NewReaper(cfg, d)

	repo := repository.NewExecutionRepository()
	now := time.Now()

	oldLog := filepath.Join(cfg.LogDir, "1-20260601.log")
	if err := os.WriteFile(oldLog, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	old, err := repo.Create(1, oldLog)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	backdate(t, old.ID, now.AddDate(0, 0, -60))
	if _, err := repo.Finish(old.ID, model.ExecutionCompleted, "", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	recent, err := repo.Create(1, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	r.pruneOldRecords(now)

	if _, err := repo.GetByID(old.ID); err == nil {
		t.Error("old execution survived pruning")
	}
	if _, err := repo.GetByID(recent.ID); err != nil {
		t.Errorf("recent execution pruned: %v", err)
	}
	if _, err := os.Stat(oldLog); !os.IsNotExist(err) {
		t.Error("old run log not removed")
	}
}
