package daemon

import (
	"context"
	"fmt"
	"time"

	"backo/internal/config"
	"backo/internal/logger"
	"backo/internal/model"
	"backo/internal/repository"
	"backo/internal/util"

	"go.uber.org/zap"
)

// Reaper reclaims executions whose worker died without reporting terminal
// status. It is the sole recovery path for a crashed worker: nothing else
// ever touches a running execution it does not own.
type Reaper struct {
	cfg        *config.Config
	dispatcher *Dispatcher
	executions *repository.ExecutionRepository
}

func NewReaper(cfg *config.Config, dispatcher *Dispatcher) *Reaper {
	return &Reaper{
		cfg:        cfg,
		dispatcher: dispatcher,
		executions: repository.NewExecutionRepository(),
	}
}

// Run cycles independently of the dispatcher's cadence until the context
// is cancelled. A failed cycle is logged and skipped, never fatal.
func (r *Reaper) Run(ctx context.Context) error {
	logger.Log.Info("reaper started",
		zap.Duration("interval", r.cfg.ReapInterval),
		zap.Duration("worker_timeout", r.cfg.WorkerTimeout))

	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := r.ReapStale(time.Now()); err != nil {
				logger.Log.Error("reap cycle failed", zap.Error(err))
			}
			r.pruneOldRecords(time.Now())
		}
	}
}

// ReapStale force-fails running executions older than the staleness
// threshold that no live worker claims.
func (r *Reaper) ReapStale(now time.Time) error {
	cutoff := now.Add(-r.cfg.WorkerTimeout)
	stale, err := r.executions.StaleRunning(cutoff)
	if err != nil {
		return fmt.Errorf("failed to query stale executions: %w", err)
	}

	for _, execution := range stale {
		if r.dispatcher.AliveExecution(execution.JobID, execution.ID) {
			continue
		}

		won, err := r.executions.Finish(execution.ID, model.ExecutionFailed, "Execution timed out", "")
		if err != nil {
			logger.Log.Error("failed to reap execution",
				zap.Uint("execution", execution.ID),
				zap.Error(err))
			continue
		}

		r.dispatcher.DropStale(execution.JobID, execution.ID)

		if won {
			logger.Log.Warn("reaped orphaned execution",
				zap.Uint("job", execution.JobID),
				zap.Uint("execution", execution.ID),
				zap.Time("started", execution.StartTime))
		}
	}

	return nil
}

// pruneOldRecords applies the retention window: old execution records go
// away together with their log files.
func (r *Reaper) pruneOldRecords(now time.Time) {
	cutoff := now.AddDate(0, 0, -r.cfg.LogRetentionDays)

	removed, err := r.executions.DeleteOlderThan(cutoff)
	if err != nil {
		logger.Log.Error("failed to prune old executions", zap.Error(err))
		return
	}

	for _, execution := range removed {
		if execution.LogFile == "" {
			continue
		}
		if err := util.RemoveIfExists(execution.LogFile); err != nil {
			logger.Log.Warn("failed to remove old run log",
				zap.String("file", execution.LogFile),
				zap.Error(err))
		}
	}

	if n, err := util.CleanupOldLogs(r.cfg.LogDir, r.cfg.LogRetentionDays); err != nil {
		logger.Log.Warn("log dir cleanup failed", zap.Error(err))
	} else if n > 0 || len(removed) > 0 {
		logger.Log.Info("retention cleanup",
			zap.Int("executions", len(removed)),
			zap.Int("log_files", n))
	}
}
