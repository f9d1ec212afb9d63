package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Job is a row in the shared scheduler_jobs table: the durable
// cross-process record of a cron trigger, standing in for APScheduler's
// SQLAlchemyJobStore row shape.
type Job struct {
	JobID          string    `gorm:"column:job_id;primaryKey"`
	TaskID         uuid.UUID `gorm:"column:task_id;not null"`
	CronExpression string    `gorm:"column:cron_expression;not null"`
	OneShot        bool      `gorm:"column:one_shot;not null"`
	NextRunTime    *time.Time `gorm:"column:next_run_time"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

func (Job) TableName() string { return "scheduler_jobs" }

// JobStore is the PostgreSQL-backed shared job store every scheduler
// process instance reconciles its in-process cron.Cron against.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore wraps an established *gorm.DB connection.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// Upsert inserts or replaces a job row, matching add_job's
// replace_existing=True behavior.
func (s *JobStore) Upsert(job Job) error {
	now := time.Now().UTC()
	job.UpdatedAt = now
	var existing Job
	result := s.db.Where("job_id = ?", job.JobID).First(&existing)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		job.CreatedAt = now
		if err := s.db.Create(&job).Error; err != nil {
			return errors.Wrap(err, "jobstore: create")
		}
		return nil
	}
	if result.Error != nil {
		return errors.Wrap(result.Error, "jobstore: lookup")
	}
	if err := s.db.Model(&Job{}).Where("job_id = ?", job.JobID).Updates(map[string]interface{}{
		"task_id":         job.TaskID,
		"cron_expression": job.CronExpression,
		"one_shot":        job.OneShot,
		"next_run_time":   job.NextRunTime,
		"updated_at":      job.UpdatedAt,
	}).Error; err != nil {
		return errors.Wrap(err, "jobstore: update")
	}
	return nil
}

// UpdateNextRunTime advances a job's next_run_time column, called after
// each firing of a recurring job so RefreshJobs's overdue check reflects
// the job's next future tick rather than the tick that just fired.
func (s *JobStore) UpdateNextRunTime(jobID string, next time.Time) error {
	if err := s.db.Model(&Job{}).Where("job_id = ?", jobID).Updates(map[string]interface{}{
		"next_run_time": next,
		"updated_at":    time.Now().UTC(),
	}).Error; err != nil {
		return errors.Wrap(err, "jobstore: update next run time")
	}
	return nil
}

// Remove deletes a job row. Returns false if it did not exist, matching
// remove_job's "log and return False" behavior rather than erroring.
func (s *JobStore) Remove(jobID string) (bool, error) {
	result := s.db.Where("job_id = ?", jobID).Delete(&Job{})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "jobstore: remove")
	}
	return result.RowsAffected > 0, nil
}

// GetAll returns every job currently in the store, used by the refresh
// loop for change detection.
func (s *JobStore) GetAll() ([]Job, error) {
	var jobs []Job
	if err := s.db.Find(&jobs).Error; err != nil {
		return nil, errors.Wrap(err, "jobstore: get all")
	}
	return jobs, nil
}

// Exists reports whether jobID is present in the store.
func (s *JobStore) Exists(jobID string) (bool, error) {
	var count int64
	if err := s.db.Model(&Job{}).Where("job_id = ?", jobID).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "jobstore: exists")
	}
	return count > 0, nil
}
