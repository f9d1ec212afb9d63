// Package store is the CRUD boundary over the relational database: Task
// and TaskRun rows, and the whitelist table (internal/whitelist builds on
// the same *gorm.DB but owns its own queries).
package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/mxrelay/mxrelay/internal/models"
)

// ErrNotFound is returned (wrapped) when a lookup finds no row.
var ErrNotFound = errors.New("store: not found")

// Store is the CRUD boundary for Task and TaskRun rows.
type Store struct {
	db *gorm.DB
}

// New wraps an established *gorm.DB connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateTask inserts a new Task row, enforcing the terminal-clears
// invariant before the write.
func (s *Store) CreateTask(task *models.Task) error {
	task.ClearIfTerminal()
	if task.TaskID == uuid.Nil {
		task.TaskID = uuid.New()
	}
	if result := s.db.Create(task); result.Error != nil {
		return errors.Wrap(result.Error, "store: create task")
	}
	return nil
}

// GetTask fetches a Task by its primary key.
func (s *Store) GetTask(taskID uuid.UUID) (*models.Task, error) {
	var task models.Task
	result := s.db.Where("task_id = ?", taskID).First(&task)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "task %s", taskID)
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "store: get task")
	}
	return &task, nil
}

// UpdateTaskStatus transitions a Task's status, clearing its email
// payload and scheduler job handle if the new status is terminal.
func (s *Store) UpdateTaskStatus(taskID uuid.UUID, status models.TaskStatus) error {
	task, err := s.GetTask(taskID)
	if err != nil {
		return err
	}
	task.Status = status
	task.ClearIfTerminal()
	task.UpdatedAt = time.Now().UTC()
	result := s.db.Model(&models.Task{}).
		Where("task_id = ?", taskID).
		Updates(map[string]interface{}{
			"status":           task.Status,
			"email_request":    task.EmailRequest,
			"scheduler_job_id": task.SchedulerJobID,
			"updated_at":       task.UpdatedAt,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "store: update task status")
	}
	return nil
}

// SetSchedulerJobID records the job store handle assigned to a Task.
func (s *Store) SetSchedulerJobID(taskID uuid.UUID, jobID string) error {
	result := s.db.Model(&models.Task{}).
		Where("task_id = ?", taskID).
		Updates(map[string]interface{}{
			"scheduler_job_id": jobID,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "store: set scheduler job id")
	}
	return nil
}

// ListActiveTasks returns every Task whose status is one of
// models.ActiveTaskStatuses, for scheduler refresh reconciliation.
func (s *Store) ListActiveTasks() ([]models.Task, error) {
	var tasks []models.Task
	result := s.db.Where("status IN ?", models.ActiveTaskStatuses).Find(&tasks)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "store: list active tasks")
	}
	return tasks, nil
}

// ListTasksForOwner returns every non-deleted Task whose captured
// email_request names ownerEmail as sender, newest first.
func (s *Store) ListTasksForOwner(ownerEmail string) ([]models.Task, error) {
	var tasks []models.Task
	result := s.db.
		Where("status <> ?", models.TaskStatusDeleted).
		Where("email_request->>'from_email' = ? OR email_request->>'from' = ?", ownerEmail, ownerEmail).
		Order("created_at DESC").
		Find(&tasks)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "store: list tasks for owner")
	}
	return tasks, nil
}

// CreateTaskRun inserts a new TaskRun row.
func (s *Store) CreateTaskRun(run *models.TaskRun) error {
	if run.TaskRunID == uuid.Nil {
		run.TaskRunID = uuid.New()
	}
	if result := s.db.Create(run); result.Error != nil {
		return errors.Wrap(result.Error, "store: create task run")
	}
	return nil
}

// UpdateTaskRun persists the terminal fields of a TaskRun (status,
// completion time, error message, result email id).
func (s *Store) UpdateTaskRun(run *models.TaskRun) error {
	run.UpdatedAt = time.Now().UTC()
	result := s.db.Model(&models.TaskRun{}).
		Where("task_run_id = ?", run.TaskRunID).
		Updates(map[string]interface{}{
			"status":          run.Status,
			"completed_at":    run.CompletedAt,
			"error_message":   run.ErrorMessage,
			"result_email_id": run.ResultEmailID,
			"updated_at":      run.UpdatedAt,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "store: update task run")
	}
	return nil
}

// ListTaskRuns returns every TaskRun for a Task, most recent first.
func (s *Store) ListTaskRuns(taskID uuid.UUID) ([]models.TaskRun, error) {
	var runs []models.TaskRun
	result := s.db.Where("task_id = ?", taskID).Order("triggered_at DESC").Find(&runs)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "store: list task runs")
	}
	return runs, nil
}
