// Package schedule implements the agent-facing scheduling tool:
// turning a processed email request into a recurring or one-shot
// future re-execution, per the original scheduling tool's contract.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mxrelay/mxrelay/internal/models"
	"github.com/mxrelay/mxrelay/internal/store"
)

// cronParser validates and evaluates 5-field UTC cron expressions, the
// same field layout internal/scheduler registers jobs with.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// validate enforces the tool's input contract the way the ingress
// layer leans on gin's bound `binding:"..."` tags, applied here
// directly since this request never crosses an HTTP boundary.
var validate = validator.New()

// genericAskHandle is the handle every scheduled re-execution is
// redirected to, regardless of the original alias, per spec.md §4.7
// step 3.
const genericAskHandle = "ask"

// JobAdder is the subset of *scheduler.Scheduler this tool needs,
// kept as a small interface so the tool package does not import
// internal/scheduler directly.
type JobAdder interface {
	AddJob(jobID string, taskID uuid.UUID, cronExpr string) error
}

// Request is the scheduling tool's input, supplied by the agent while
// processing an inbound email.
type Request struct {
	// CapturedRequest is the email_request captured at ingress for the
	// request currently being processed.
	CapturedRequest models.JSONMap
	// CurrentScheduledTaskID is set when the request being processed is
	// itself a scheduler self-callback; non-empty triggers the
	// no-recursive-scheduling refusal.
	CurrentScheduledTaskID string

	CronExpression                  string `validate:"required"`
	DistilledFutureTaskInstructions string `validate:"required"`
	TaskDescription                 string `validate:"required"`
	NextRunTime                     *time.Time
	StartTime                       *time.Time
	ExpiryTime                      *time.Time
}

// Result is returned to the agent on success.
type Result struct {
	TaskID          uuid.UUID
	SchedulerJobID  string
	CronExpression  string
	NextExecution   time.Time
	TaskDescription string
}

// Tool wires the store and scheduler job registration together.
type Tool struct {
	Store     *store.Store
	Scheduler JobAdder
}

// New constructs a Tool.
func New(st *store.Store, sched JobAdder) *Tool {
	return &Tool{Store: st, Scheduler: sched}
}

// ErrRecursiveScheduling is returned when the current request is
// itself a scheduler re-entry, per spec.md §4.7 step 1.
var ErrRecursiveScheduling = fmt.Errorf("schedule: cannot schedule a future task from within a scheduled task execution")

// Schedule implements the tool's full contract.
func (t *Tool) Schedule(ctx context.Context, req Request) (*Result, error) {
	if req.CurrentScheduledTaskID != "" {
		return nil, ErrRecursiveScheduling
	}

	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("schedule: invalid request: %w", err)
	}

	schedule, err := cronParser.Parse(req.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", req.CronExpression, err)
	}

	nextRun := req.NextRunTime
	if nextRun != nil {
		rounded := nextRun.UTC().Round(time.Minute)
		nextRun = &rounded
	}
	nextExecution := schedule.Next(time.Now().UTC())
	if nextRun != nil {
		nextExecution = *nextRun
	}

	emailRequest := cloneRequest(req.CapturedRequest)
	emailRequest["handle"] = genericAskHandle
	// The replayed request's handle is resolved from the local-part of
	// "to", so the redirect is applied there as well.
	if to := asString(emailRequest["to"]); to != "" {
		if at := strings.LastIndex(to, "@"); at >= 0 {
			emailRequest["to"] = genericAskHandle + to[at:]
		}
	}
	emailRequest["distilled_future_task_instructions"] = req.DistilledFutureTaskInstructions
	emailRequest["task_description"] = req.TaskDescription

	task := &models.Task{
		TaskID:         uuid.New(),
		EmailID:        asString(emailRequest["emailId"]),
		CronExpression: req.CronExpression,
		EmailRequest:   emailRequest,
		StartTime:      req.StartTime,
		ExpiryTime:     req.ExpiryTime,
		Status:         models.TaskStatusInitialised,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := t.Store.CreateTask(task); err != nil {
		return nil, fmt.Errorf("schedule: create task: %w", err)
	}

	jobID := task.TaskID.String()
	if err := t.Scheduler.AddJob(jobID, task.TaskID, req.CronExpression); err != nil {
		if delErr := t.Store.UpdateTaskStatus(task.TaskID, models.TaskStatusDeleted); delErr != nil {
			logrus.WithError(delErr).Error("schedule: failed to roll back task after job registration failure")
		}
		return nil, fmt.Errorf("schedule: register scheduler job: %w", err)
	}

	if err := t.Store.SetSchedulerJobID(task.TaskID, jobID); err != nil {
		return nil, fmt.Errorf("schedule: record scheduler job id: %w", err)
	}
	if err := t.Store.UpdateTaskStatus(task.TaskID, models.TaskStatusActive); err != nil {
		return nil, fmt.Errorf("schedule: promote task to active: %w", err)
	}

	return &Result{
		TaskID:          task.TaskID,
		SchedulerJobID:  jobID,
		CronExpression:  req.CronExpression,
		NextExecution:   nextExecution,
		TaskDescription: req.TaskDescription,
	}, nil
}

func cloneRequest(m models.JSONMap) models.JSONMap {
	if m == nil {
		return models.JSONMap{}
	}
	cloned := make(models.JSONMap, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
