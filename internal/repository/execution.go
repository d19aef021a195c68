package repository

import (
	"time"

	"backo/internal/db"
	"backo/internal/model"
)

type ExecutionRepository struct{}

func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{}
}

func (r *ExecutionRepository) Create(jobID uint, logFile string) (model.Execution, error) {
	execution := model.Execution{
		JobID:     jobID,
		Status:    model.ExecutionRunning,
		StartTime: time.Now(),
		LogFile:   logFile,
	}

	return execution, db.DB.Create(&execution).Error
}

func (r *ExecutionRepository) GetByID(id uint) (model.Execution, error) {
	var execution model.Execution
	return execution, db.DB.First(&execution, id).Error
}

type ExecutionFilter struct {
	JobID  uint
	Status model.ExecutionStatus
	Since  time.Time
	Limit  int
	Offset int
}

func (r *ExecutionRepository) List(filter ExecutionFilter) ([]model.Execution, error) {
	q := db.DB.Order("start_time desc")

	if filter.JobID != 0 {
		q = q.Where("job_id = ?", filter.JobID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if !filter.Since.IsZero() {
		q = q.Where("start_time >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var executions []model.Execution
	return executions, q.Find(&executions).Error
}

// SetTotals persists the walk results. It runs exactly once per execution,
// before any progress increment, so percentages are well-defined as soon
// as copying starts.
func (r *ExecutionRepository) SetTotals(id uint, totalFiles, totalSize int64) error {
	return db.DB.Model(&model.Execution{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_files": totalFiles,
			"total_size":  totalSize,
		}).Error
}

func (r *ExecutionRepository) UpdateProgress(id uint, processedFiles, processedSize int64, currentFile string) error {
	return db.DB.Model(&model.Execution{}).
		Where("id = ? AND status = ?", id, model.ExecutionRunning).
		Updates(map[string]any{
			"processed_files": processedFiles,
			"processed_size":  processedSize,
			"current_file":    currentFile,
		}).Error
}

// Finish applies a terminal transition. The conditional update makes the
// transition idempotent and first-writer-wins: when a manual stop and the
// reaper race, only one of them lands. Returns whether this call won.
func (r *ExecutionRepository) Finish(id uint, status model.ExecutionStatus, errorMessage, errorDetails string) (bool, error) {
	result := db.DB.Model(&model.Execution{}).
		Where("id = ? AND status = ?", id, model.ExecutionRunning).
		Updates(map[string]any{
			"status":        status,
			"end_time":      time.Now(),
			"error_message": errorMessage,
			"error_details": errorDetails,
		})

	return result.RowsAffected > 0, result.Error
}

// StaleRunning returns executions still marked running that started before
// the given cutoff. They are reaper candidates.
func (r *ExecutionRepository) StaleRunning(cutoff time.Time) ([]model.Execution, error) {
	var executions []model.Execution
	err := db.DB.
		Where("status = ? AND start_time <= ?", model.ExecutionRunning, cutoff).
		Find(&executions).Error
	return executions, err
}

// DeleteOlderThan removes execution records started before the cutoff and
// returns them so the caller can unlink their log files.
func (r *ExecutionRepository) DeleteOlderThan(cutoff time.Time) ([]model.Execution, error) {
	var executions []model.Execution
	if err := db.DB.Where("start_time <= ?", cutoff).Find(&executions).Error; err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, nil
	}

	err := db.DB.Unscoped().
		Where("start_time <= ?", cutoff).
		Delete(&model.Execution{}).Error
	return executions, err
}

type Stats struct {
	Total          int64   `json:"total"`
	Completed      int64   `json:"completed"`
	Failed         int64   `json:"failed"`
	Stopped        int64   `json:"stopped"`
	FilesProcessed int64   `json:"files_processed"`
	SizeProcessed  int64   `json:"size_processed"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDuration    float64 `json:"avg_duration_seconds"`
}

// GetStats aggregates execution outcomes over a time window, optionally
// restricted to one job. Pure derived values, no extra state.
func (r *ExecutionRepository) GetStats(since time.Time, jobID uint) (Stats, error) {
	q := db.DB.Where("start_time >= ?", since)
	if jobID != 0 {
		q = q.Where("job_id = ?", jobID)
	}

	var executions []model.Execution
	if err := q.Find(&executions).Error; err != nil {
		return Stats{}, err
	}

	var stats Stats
	var durationSum float64
	var finished int64

	for _, e := range executions {
		stats.Total++
		stats.FilesProcessed += e.ProcessedFiles
		stats.SizeProcessed += e.ProcessedSize

		switch e.Status {
		case model.ExecutionCompleted:
			stats.Completed++
		case model.ExecutionFailed:
			stats.Failed++
		case model.ExecutionStopped:
			stats.Stopped++
		}

		if e.EndTime != nil {
			durationSum += e.Duration()
			finished++
		}
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total) * 100
	}
	if finished > 0 {
		stats.AvgDuration = durationSum / float64(finished)
	}

	return stats, nil
}
