package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backo/internal/backup"
	"backo/internal/config"
	"backo/internal/logger"
	"backo/internal/model"
	"backo/internal/repository"
	"backo/internal/schedule"

	"go.uber.org/zap"
)

// errorBackoff is the longer sleep after a failed poll cycle.
const errorBackoff = 30 * time.Second

// Dispatcher polls for due jobs, enforces the global concurrency ceiling
// and launches one isolated worker per accepted job. It owns the active
// map; the reaper only gets a read-plus-evict view of it.
type Dispatcher struct {
	mu     sync.RWMutex
	active map[uint]*workerHandle

	cfg        *config.Config
	jobs       *repository.JobRepository
	executions *repository.ExecutionRepository
}

func NewDispatcher(cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		active:     make(map[uint]*workerHandle),
		cfg:        cfg,
		jobs:       repository.NewJobRepository(),
		executions: repository.NewExecutionRepository(),
	}
}

// Run drives the poll loop until the context is cancelled, then shuts
// down gracefully. A failed cycle backs off and retries; it never kills
// the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.Log.Info("dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("max_concurrent_jobs", d.cfg.MaxConcurrentJobs))

	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil

		case <-timer.C:
			if err := d.DispatchDue(time.Now()); err != nil {
				logger.Log.Error("dispatch cycle failed", zap.Error(err))
				timer.Reset(errorBackoff)
				continue
			}
			timer.Reset(d.cfg.PollInterval)
		}
	}
}

// DispatchDue runs one poll cycle: launch due jobs, earliest first, while
// the ceiling allows. A job with a live worker is never double-dispatched.
func (d *Dispatcher) DispatchDue(now time.Time) error {
	due, err := d.jobs.Due(now)
	if err != nil {
		return fmt.Errorf("failed to query due jobs: %w", err)
	}

	for _, job := range due {
		if d.ActiveCount() >= d.cfg.MaxConcurrentJobs {
			break
		}
		if d.IsActive(job.ID) {
			continue
		}

		if _, err := d.startJob(job); err != nil {
			logger.Log.Error("failed to start job",
				zap.Uint("job", job.ID),
				zap.Error(err))
			continue
		}

		d.reschedule(job, now)
	}

	return nil
}

// RunJobNow dispatches a job immediately, outside its schedule. The
// mutual-exclusion and ceiling rules still apply.
func (d *Dispatcher) RunJobNow(id uint) (model.Execution, error) {
	job, err := d.jobs.GetByID(id)
	if err != nil {
		return model.Execution{}, fmt.Errorf("failed to load job %d: %w", id, err)
	}

	if d.IsActive(job.ID) {
		return model.Execution{}, fmt.Errorf("job %d already running", id)
	}
	if d.ActiveCount() >= d.cfg.MaxConcurrentJobs {
		return model.Execution{}, fmt.Errorf("concurrency ceiling reached (%d)", d.cfg.MaxConcurrentJobs)
	}

	return d.startJob(job)
}

func (d *Dispatcher) startJob(job model.Job) (model.Execution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Re-check under the lock; two callers may have passed IsActive.
	if handle, exists := d.active[job.ID]; exists && handle.Alive() {
		return model.Execution{}, fmt.Errorf("job %d already running", job.ID)
	}

	logPath := backup.LogFilePath(d.cfg.LogDir, job.ID, time.Now())
	execution, err := d.executions.Create(job.ID, logPath)
	if err != nil {
		return model.Execution{}, fmt.Errorf("failed to create execution: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := newWorkerHandle(job.ID, execution.ID, cancel)
	d.active[job.ID] = handle

	go func() {
		defer close(handle.done)
		defer d.release(job.ID, handle)

		backup.NewEngine(job.ID, execution.ID, logPath).Run(ctx)
	}()

	logger.Log.Info("job dispatched",
		zap.Uint("job", job.ID),
		zap.Uint("execution", execution.ID),
		zap.String("src", job.SourcePath),
		zap.String("dst", job.DestinationPath))

	return execution, nil
}

// reschedule records the dispatch on the job. A once job is retired: its
// next run becomes permanently null.
func (d *Dispatcher) reschedule(job model.Job, now time.Time) {
	var next *time.Time
	if job.ScheduleType != model.ScheduleOnce {
		next = schedule.NextRun(job.ScheduleType, job.ScheduleValue, job.ScheduleTime, now)
	}

	err := d.jobs.MarkDispatched(job.ID, now, next)
	if err != nil {
		// Bookkeeping writes get one retry at the call site; losing
		// next_run would re-dispatch the job forever.
		err = d.jobs.MarkDispatched(job.ID, now, next)
	}
	if err != nil {
		logger.Log.Error("failed to reschedule job",
			zap.Uint("job", job.ID),
			zap.Error(err))
	}
}

// StopJob cancels the job's worker and waits briefly for it to finish its
// own stopped transition. A worker that does not acknowledge within the
// grace period gets its execution force-stopped here.
func (d *Dispatcher) StopJob(id uint) error {
	d.mu.RLock()
	handle, exists := d.active[id]
	d.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %d not running", id)
	}

	handle.Cancel()
	if !handle.Join(d.cfg.StopGracePeriod) {
		won, err := d.executions.Finish(handle.executionID, model.ExecutionStopped, "", "")
		if err != nil {
			logger.Log.Error("failed to force-stop execution",
				zap.Uint("execution", handle.executionID),
				zap.Error(err))
		} else if won {
			logger.Log.Warn("worker did not acknowledge stop, execution force-stopped",
				zap.Uint("job", id),
				zap.Uint("execution", handle.executionID))
		}
	}

	d.release(id, handle)
	return nil
}

// shutdown cancels every active worker and joins each with a timeout.
// Stragglers are abandoned; the reaper reconciles their executions on a
// later cycle.
func (d *Dispatcher) shutdown() {
	d.mu.RLock()
	handles := make([]*workerHandle, 0, len(d.active))
	for _, handle := range d.active {
		handles = append(handles, handle)
	}
	d.mu.RUnlock()

	for _, handle := range handles {
		handle.Cancel()
	}

	for _, handle := range handles {
		if !handle.Join(d.cfg.StopGracePeriod) {
			logger.Log.Warn("worker did not terminate in time, abandoning",
				zap.Uint("job", handle.jobID),
				zap.Uint("execution", handle.executionID))
		}
	}

	logger.Log.Info("dispatcher stopped", zap.Int("workers", len(handles)))
}

// release drops the handle from the active map if it is still the
// registered one. Handle identity matters: the job may have been
// relaunched since.
func (d *Dispatcher) release(jobID uint, handle *workerHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if current, exists := d.active[jobID]; exists && current == handle {
		delete(d.active, jobID)
	}
}

func (d *Dispatcher) ActiveCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.active)
}

func (d *Dispatcher) IsActive(jobID uint) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handle, exists := d.active[jobID]
	return exists && handle.Alive()
}

// AliveExecution reports whether a live worker is still associated with
// the given execution. Read-only; used by the reaper.
func (d *Dispatcher) AliveExecution(jobID, executionID uint) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handle, exists := d.active[jobID]
	return exists && handle.executionID == executionID && handle.Alive()
}

// DropStale evicts a dead handle left behind by an abandoned worker.
func (d *Dispatcher) DropStale(jobID, executionID uint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handle, exists := d.active[jobID]
	if exists && handle.executionID == executionID && !handle.Alive() {
		delete(d.active, jobID)
	}
}

type RunSnapshot struct {
	JobID       uint      `json:"job_id"`
	ExecutionID uint      `json:"execution_id"`
	StartedAt   time.Time `json:"started_at"`
}

func (d *Dispatcher) Snapshots() []RunSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snaps := make([]RunSnapshot, 0, len(d.active))
	for _, handle := range d.active {
		snaps = append(snaps, RunSnapshot{
			JobID:       handle.jobID,
			ExecutionID: handle.executionID,
			StartedAt:   handle.startedAt,
		})
	}

	return snaps
}
