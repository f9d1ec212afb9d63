package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskRunStatus is the lifecycle state of a single firing of a Task.
type TaskRunStatus string

const (
	TaskRunStatusInitialised TaskRunStatus = "INITIALISED"
	TaskRunStatusInProgress  TaskRunStatus = "IN_PROGRESS"
	TaskRunStatusCompleted   TaskRunStatus = "COMPLETED"
	TaskRunStatusErrored     TaskRunStatus = "ERRORED"
)

// TaskRun records one execution attempt of a Task's scheduled job.
type TaskRun struct {
	TaskRunID    uuid.UUID     `gorm:"column:task_run_id;type:uuid;primaryKey" json:"task_run_id"`
	TaskID       uuid.UUID     `gorm:"column:task_id;type:uuid;index;not null" json:"task_id"`
	Status       TaskRunStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	TriggeredAt  time.Time     `gorm:"column:triggered_at;not null" json:"triggered_at"`
	CompletedAt  *time.Time    `gorm:"column:completed_at" json:"completed_at"`
	ErrorMessage *string       `gorm:"column:error_message" json:"error_message"`
	ResultEmailID *string      `gorm:"column:result_email_id" json:"result_email_id"`
	CreatedAt    time.Time     `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (TaskRun) TableName() string { return "task_runs" }

// MarkCompleted transitions the run into its terminal success state.
func (r *TaskRun) MarkCompleted(resultEmailID string, completedAt time.Time) {
	r.Status = TaskRunStatusCompleted
	r.CompletedAt = &completedAt
	if resultEmailID != "" {
		r.ResultEmailID = &resultEmailID
	}
}

// MarkErrored transitions the run into its terminal failure state.
func (r *TaskRun) MarkErrored(errMsg string, completedAt time.Time) {
	r.Status = TaskRunStatusErrored
	r.CompletedAt = &completedAt
	r.ErrorMessage = &errMsg
}
