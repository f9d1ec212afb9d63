// Package deletetask implements the agent-facing deletion tool: looks
// up a task, enforces ownership, best-effort removes its scheduler
// job, and transitions it to DELETED.
package deletetask

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mxrelay/mxrelay/internal/models"
	"github.com/mxrelay/mxrelay/internal/store"
)

// JobRemover is the subset of *scheduler.Scheduler this tool needs.
type JobRemover interface {
	RemoveJob(jobID string) (bool, error)
}

// Result is the tool's structured response.
type Result struct {
	Success         bool
	Error           string
	TaskID          string
	Message         string
	SchedulerRemoved bool
	DeletedAt       time.Time
}

// Tool wires the store and scheduler job removal together.
type Tool struct {
	Store *store.Store
	Jobs  JobRemover
}

// New constructs a Tool.
func New(st *store.Store, jobs JobRemover) *Tool {
	return &Tool{Store: st, Jobs: jobs}
}

// taskIDPattern matches a standard UUID, used to pull a task id out of
// free-form text when the agent doesn't have it structured.
var taskIDPattern = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)

// ExtractTaskIDFromText returns the first UUID-shaped substring in text,
// or "" if none is present.
func ExtractTaskIDFromText(text string) string {
	return taskIDPattern.FindString(text)
}

// FindUserTasks lists a user's active/initialised tasks, newest first,
// for the agent to present as deletion candidates.
func FindUserTasks(st *store.Store, userEmail string, limit int) ([]models.Task, error) {
	tasks, err := st.ListTasksForOwner(strings.ToLower(userEmail))
	if err != nil {
		return nil, err
	}
	filtered := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == models.TaskStatusActive || t.Status == models.TaskStatusInitialised {
			filtered = append(filtered, t)
		}
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}
	return filtered, nil
}

// Delete implements the tool's full contract.
func (t *Tool) Delete(taskIDStr, requestingEmail string) Result {
	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		return Result{Success: false, Error: "Invalid task ID format", TaskID: taskIDStr, Message: "task_id must be a valid UUID"}
	}

	task, err := t.Store.GetTask(taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Success: false, Error: "Task not found", TaskID: taskIDStr, Message: "No task found with ID: " + taskIDStr}
		}
		return Result{Success: false, Error: err.Error(), TaskID: taskIDStr, Message: "Failed to load task"}
	}

	owner, ok := task.OwnerEmail()
	if !ok {
		logrus.Warnf("deletetask: task %s has corrupted or missing email_request", taskIDStr)
		return Result{Success: false, Error: "Corrupted task data", TaskID: taskIDStr, Message: "Task data is corrupted and cannot be processed"}
	}

	if !strings.EqualFold(owner, requestingEmail) {
		logrus.Warnf("deletetask: permission denied: %s cannot delete task owned by %s", requestingEmail, owner)
		return Result{
			Success: false,
			Error:   "Permission denied",
			TaskID:  taskIDStr,
			Message: "You can only delete your own tasks. This task belongs to " + owner,
		}
	}

	schedulerRemoved := false
	if task.SchedulerJobID != nil && *task.SchedulerJobID != "" {
		removed, err := t.Jobs.RemoveJob(*task.SchedulerJobID)
		if err != nil {
			logrus.WithError(err).Warnf("deletetask: failed to remove scheduler job for task %s", taskIDStr)
		} else {
			schedulerRemoved = removed
		}
	}

	if err := t.Store.UpdateTaskStatus(taskID, models.TaskStatusDeleted); err != nil {
		return Result{Success: false, Error: err.Error(), TaskID: taskIDStr, Message: "Failed to update task status"}
	}

	return Result{
		Success:          true,
		TaskID:           taskIDStr,
		SchedulerRemoved: schedulerRemoved,
		Message:          "Task successfully deleted",
		DeletedAt:        time.Now().UTC(),
	}
}
