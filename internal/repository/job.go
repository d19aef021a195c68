package repository

import (
	"time"

	"backo/internal/db"
	"backo/internal/model"
)

type JobRepository struct{}

func NewJobRepository() *JobRepository {
	return &JobRepository{}
}

func (r *JobRepository) Create(job *model.Job) error {
	return db.DB.Create(job).Error
}

func (r *JobRepository) GetAll() ([]model.Job, error) {
	var jobs []model.Job
	return jobs, db.DB.Find(&jobs).Error
}

func (r *JobRepository) GetByID(id uint) (model.Job, error) {
	var job model.Job
	return job, db.DB.First(&job, id).Error
}

func (r *JobRepository) Save(job *model.Job) error {
	return db.DB.Save(job).Error
}

func (r *JobRepository) Delete(id uint) error {
	return db.DB.Delete(&model.Job{}, id).Error
}

// Due returns active jobs whose next run is at or before now, earliest
// first. The ordering is the fairness tie-break when the dispatcher's
// concurrency ceiling is saturated.
func (r *JobRepository) Due(now time.Time) ([]model.Job, error) {
	var jobs []model.Job
	err := db.DB.
		Where("active = ? AND next_run IS NOT NULL AND next_run <= ?", true, now).
		Order("next_run asc").
		Find(&jobs).Error
	return jobs, err
}

// MarkDispatched records that a run was launched. A nil nextRun retires
// the job from scheduling permanently (once jobs after their single run).
func (r *JobRepository) MarkDispatched(id uint, lastRun time.Time, nextRun *time.Time) error {
	return db.DB.Model(&model.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_run": lastRun,
			"next_run": nextRun,
		}).Error
}
