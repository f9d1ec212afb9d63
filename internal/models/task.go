// Package models holds the relational entities shared by the ingress,
// worker, and scheduler processes: Task and TaskRun, and the status
// invariants that bind them.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusInitialised TaskStatus = "INITIALISED"
	TaskStatusActive      TaskStatus = "ACTIVE"
	TaskStatusExecuting   TaskStatus = "EXECUTING"
	TaskStatusFinished    TaskStatus = "FINISHED"
	TaskStatusDeleted     TaskStatus = "DELETED"
)

// ActiveTaskStatuses are the statuses under which a Task's scheduler job
// must still exist in the job store.
var ActiveTaskStatuses = []TaskStatus{TaskStatusInitialised, TaskStatusActive, TaskStatusExecuting}

// TerminalTaskStatuses are the statuses at which a Task's email_request
// must be cleared and its scheduler_job_id nulled.
var TerminalTaskStatuses = []TaskStatus{TaskStatusFinished, TaskStatusDeleted}

// IsActive reports whether status is one of ActiveTaskStatuses.
func IsActive(status TaskStatus) bool {
	for _, s := range ActiveTaskStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status is one of TerminalTaskStatuses.
func IsTerminal(status TaskStatus) bool {
	for _, s := range TerminalTaskStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Task is a persistent declaration that a given email request should be
// re-processed on a schedule. See spec invariant: a Task in a terminal
// status must have EmailRequest cleared and SchedulerJobID nil.
type Task struct {
	TaskID          uuid.UUID  `gorm:"column:task_id;type:uuid;primaryKey" json:"task_id"`
	EmailID         string     `gorm:"column:email_id;index;not null" json:"email_id"`
	CronExpression  string     `gorm:"column:cron_expression" json:"cron_expression"`
	EmailRequest    JSONMap    `gorm:"column:email_request;type:jsonb" json:"email_request"`
	SchedulerJobID  *string    `gorm:"column:scheduler_job_id;index" json:"scheduler_job_id"`
	StartTime       *time.Time `gorm:"column:start_time" json:"start_time"`
	ExpiryTime      *time.Time `gorm:"column:expiry_time" json:"expiry_time"`
	Status          TaskStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

// ClearIfTerminal enforces invariant 1: a terminal-status Task carries no
// email payload and no dangling scheduler job handle.
func (t *Task) ClearIfTerminal() {
	if IsTerminal(t.Status) {
		t.EmailRequest = nil
		t.SchedulerJobID = nil
	}
}

// OwnerEmail extracts the normalized sender email recorded in the
// captured request, accepting either "from_email" or "from" per the
// original dual field-name convention (spec.md §9).
func (t *Task) OwnerEmail() (string, bool) {
	if t.EmailRequest == nil {
		return "", false
	}
	if v, ok := t.EmailRequest["from_email"].(string); ok && v != "" {
		return v, true
	}
	if v, ok := t.EmailRequest["from"].(string); ok && v != "" {
		return v, true
	}
	return "", false
}
