package model

import (
	"time"

	"gorm.io/gorm"
)

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionStopped   ExecutionStatus = "stopped"
)

// Execution records one concrete run of a Job. It is created in the
// running state, written by exactly one engine while running, and
// read-only after its terminal transition.
type Execution struct {
	gorm.Model
	JobID     uint            `gorm:"not null;index"`
	Status    ExecutionStatus `gorm:"not null;index"`
	StartTime time.Time       `gorm:"not null;index"`
	EndTime   *time.Time

	TotalFiles     int64
	ProcessedFiles int64
	TotalSize      int64
	ProcessedSize  int64
	CurrentFile    string

	ErrorMessage string
	ErrorDetails string
	LogFile      string
}

func (e *Execution) Terminal() bool {
	return e.Status != ExecutionRunning
}

// Duration returns the run time in seconds, or 0 while still running.
func (e *Execution) Duration() float64 {
	if e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(e.StartTime).Seconds()
}

func (e *Execution) ProgressPercent() float64 {
	if e.TotalFiles == 0 {
		return 0
	}
	return float64(e.ProcessedFiles) / float64(e.TotalFiles) * 100
}

func (e *Execution) SizePercent() float64 {
	if e.TotalSize == 0 {
		return 0
	}
	return float64(e.ProcessedSize) / float64(e.TotalSize) * 100
}
