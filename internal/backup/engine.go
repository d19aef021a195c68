package backup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"backo/internal/logger"
	"backo/internal/model"
	"backo/internal/repository"

	"go.uber.org/zap"
)

// Engine performs one full backup pass for an already-created running
// execution. It owns the execution's terminal transition: no state
// escapes the worker boundary except through the execution record.
type Engine struct {
	jobs       *repository.JobRepository
	executions *repository.ExecutionRepository

	jobID       uint
	executionID uint
	logPath     string
}

func NewEngine(jobID, executionID uint, logPath string) *Engine {
	return &Engine{
		jobs:        repository.NewJobRepository(),
		executions:  repository.NewExecutionRepository(),
		jobID:       jobID,
		executionID: executionID,
		logPath:     logPath,
	}
}

func (e *Engine) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.finish(model.ExecutionFailed, fmt.Sprintf("backup panicked: %v", r), string(debug.Stack()))
		}
	}()

	runLog, closeLog, err := OpenRunLog(e.logPath)
	if err != nil {
		logger.Log.Warn("failed to open run log, continuing without one",
			zap.Uint("execution", e.executionID),
			zap.Error(err))
		runLog = zap.NewNop()
		closeLog = func() {}
	}
	defer closeLog()

	job, err := e.jobs.GetByID(e.jobID)
	if err != nil {
		e.finish(model.ExecutionFailed, fmt.Sprintf("failed to load job %d: %v", e.jobID, err), "")
		return
	}

	runLog.Info("backup started",
		zap.String("job", job.Name),
		zap.String("src", job.SourcePath),
		zap.String("dst", job.DestinationPath),
		zap.String("type", string(job.JobType)))

	entries, totalSize, err := ScanTree(ctx, job.SourcePath, runLog)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.finish(model.ExecutionStopped, "", "")
			return
		}

		runLog.Error("mapping failed", zap.Error(err))
		e.finish(model.ExecutionFailed, err.Error(), "")
		return
	}

	// Totals land before the first copy so progress percentages are
	// well-defined for every later snapshot.
	if err := e.executions.SetTotals(e.executionID, int64(len(entries)), totalSize); err != nil {
		e.finish(model.ExecutionFailed, fmt.Sprintf("failed to record totals: %v", err), "")
		return
	}

	tracker := NewTracker(e.executions, e.executionID)

	stopped, err := e.copyPass(ctx, job, entries, tracker, runLog)
	if err != nil {
		e.finish(model.ExecutionFailed, err.Error(), "")
		return
	}

	if stopped {
		runLog.Info("backup stopped",
			zap.Int64("processed_files", tracker.ProcessedFiles()),
			zap.Int64("processed_size", tracker.ProcessedSize()))
		e.finish(model.ExecutionStopped, "", "")
		return
	}

	runLog.Info("backup completed",
		zap.Int64("processed_files", tracker.ProcessedFiles()),
		zap.Int64("processed_size", tracker.ProcessedSize()),
		zap.Float64("elapsed_time", tracker.Elapsed().Seconds()),
		zap.Float64("avg_speed", tracker.AverageSpeed()))
	e.finish(model.ExecutionCompleted, "", "")
}

// copyPass copies every entry that needs it, honoring the job's per-file
// error policy. Cancellation is polled between files, never mid-copy, so
// a stop cannot leave the byte counters inconsistent. A returned error
// means the run must fail.
func (e *Engine) copyPass(ctx context.Context, job model.Job, entries []FileEntry, tracker *Tracker, runLog *zap.Logger) (stopped bool, err error) {
	for _, entry := range entries {
		if ctx.Err() != nil {
			return true, nil
		}

		if !NeedsCopy(job.JobType, entry, DestinationPath(job.DestinationPath, entry)) {
			continue
		}

		copyStart := time.Now()
		if err := CopyFile(job.SourcePath, job.DestinationPath, entry); err != nil {
			runLog.Error("copy failed",
				zap.String("file", entry.RelPath),
				zap.Error(err))

			if job.ErrorPolicy == model.ErrorPolicyStop {
				return false, fmt.Errorf("failed to copy %s: %w", entry.RelPath, err)
			}
			continue
		}

		runLog.Info("copied",
			zap.String("file", entry.RelPath),
			zap.Int64("size", entry.Size),
			zap.Float64("elapsed_time", time.Since(copyStart).Seconds()))

		if err := tracker.Advance(entry.Size, entry.RelPath); err != nil {
			runLog.Warn("failed to persist progress", zap.Error(err))
		}
	}

	return false, nil
}

// finish applies the terminal transition. Losing the first-writer race is
// normal (a forced stop or the reaper got there first); a store error is
// not, and is the one failure that must never be swallowed.
func (e *Engine) finish(status model.ExecutionStatus, errorMessage, errorDetails string) {
	won, err := e.executions.Finish(e.executionID, status, errorMessage, errorDetails)
	if err != nil {
		logger.Log.Error("failed to commit terminal transition",
			zap.Uint("execution", e.executionID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}

	if !won {
		logger.Log.Debug("execution already finished elsewhere",
			zap.Uint("execution", e.executionID),
			zap.String("status", string(status)))
	}
}
