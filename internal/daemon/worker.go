package daemon

import (
	"context"
	"time"
)

// workerHandle is the dispatcher's view of one isolated execution worker:
// a cancellation signal, a liveness probe and a bounded join. The record
// store is the only state the worker shares with the rest of the daemon.
type workerHandle struct {
	jobID       uint
	executionID uint
	startedAt   time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

func newWorkerHandle(jobID, executionID uint, cancel context.CancelFunc) *workerHandle {
	return &workerHandle{
		jobID:       jobID,
		executionID: executionID,
		startedAt:   time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

func (w *workerHandle) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *workerHandle) Cancel() {
	w.cancel()
}

// Join waits for the worker to exit, up to the given timeout. It reports
// whether the worker acknowledged in time.
func (w *workerHandle) Join(timeout time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
