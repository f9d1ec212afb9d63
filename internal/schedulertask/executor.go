// Package schedulertask implements the self-callback cycle the
// scheduler runs when a persisted Task's cron trigger fires: validate
// the task's validity window, transition it to EXECUTING, replay the
// captured email request against the ingress HTTP endpoint with a
// fresh idempotency-bypassing message id, and record the outcome.
package schedulertask

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mxrelay/mxrelay/internal/idempotency"
	"github.com/mxrelay/mxrelay/internal/models"
	"github.com/mxrelay/mxrelay/internal/scheduler"
	"github.com/mxrelay/mxrelay/internal/store"
)

// JobRemover is the subset of internal/scheduler.Scheduler's behavior
// the executor needs: removing a job once its owning Task has reached
// a terminal status. A small interface per the "inheritance ->
// composition" guidance, avoiding a direct scheduler package import.
type JobRemover interface {
	RemoveJob(jobID string) (bool, error)
}

// Executor runs the scheduled-task self-callback cycle.
type Executor struct {
	Store      *store.Store
	Jobs       JobRemover
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
}

// New constructs an Executor. timeout governs the self-callback HTTP
// request (SCHEDULER_API_TIMEOUT, default 300s per spec.md §6).
func New(st *store.Store, jobs JobRemover, baseURL, apiKey string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Executor{
		Store:      st,
		Jobs:       jobs,
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    baseURL,
		APIKey:     apiKey,
	}
}

// Execute runs the full fire/callback/record cycle for taskID. It is
// the FireFunc the scheduler invokes on each trigger.
func (e *Executor) Execute(ctx context.Context, taskID uuid.UUID) {
	if err := e.execute(ctx, taskID); err != nil {
		logrus.Errorf("schedulertask: task %s: %v", taskID, err)
	}
}

func (e *Executor) execute(ctx context.Context, taskID uuid.UUID) error {
	task, err := e.Store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	if !models.IsActive(task.Status) {
		logrus.Warnf("schedulertask: task %s has terminal status %s, removing from scheduler", taskID, task.Status)
		if task.SchedulerJobID != nil {
			if _, err := e.Jobs.RemoveJob(*task.SchedulerJobID); err != nil {
				logrus.Warnf("schedulertask: failed to remove job %s: %v", *task.SchedulerJobID, err)
			}
		}
		return nil
	}

	now := time.Now().UTC()
	if task.StartTime != nil && now.Before(*task.StartTime) {
		logrus.Warnf("schedulertask: task %s has not reached its start time yet, skipping", taskID)
		return nil
	}
	if task.ExpiryTime != nil && now.After(*task.ExpiryTime) {
		logrus.Warnf("schedulertask: task %s has expired, marking FINISHED", taskID)
		return e.Store.UpdateTaskStatus(taskID, models.TaskStatusFinished)
	}

	if err := e.Store.UpdateTaskStatus(taskID, models.TaskStatusExecuting); err != nil {
		return fmt.Errorf("transition to EXECUTING: %w", err)
	}

	run := &models.TaskRun{
		TaskID:      taskID,
		Status:      models.TaskRunStatusInProgress,
		TriggeredAt: now,
	}
	if err := e.Store.CreateTaskRun(run); err != nil {
		return fmt.Errorf("create task run: %w", err)
	}

	emailRequest := cloneRequest(task.EmailRequest)
	newMessageID := idempotency.SchedulerMessageID(taskID.String(), now)
	emailRequest["messageId"] = newMessageID
	if _, hasAttachments := emailRequest["attachments"]; hasAttachments {
		logrus.Warnf("schedulertask: task %s has attachments, dropping them on re-execution", taskID)
		delete(emailRequest, "attachments")
	}

	success := e.callProcessEmail(ctx, taskID, emailRequest)

	runStatus := models.TaskRunStatusCompleted
	if !success {
		runStatus = models.TaskRunStatusErrored
	}
	run.Status = runStatus
	completedAt := time.Now().UTC()
	if success {
		run.MarkCompleted(asString(emailRequest["messageId"]), completedAt)
	} else {
		run.MarkErrored("self-callback to /process-email failed", completedAt)
	}
	if err := e.Store.UpdateTaskRun(run); err != nil {
		logrus.Errorf("schedulertask: failed to record task run %s: %v", run.TaskRunID, err)
	}

	newTaskStatus := models.TaskStatusActive
	if success && !isRecurring(task.CronExpression) {
		newTaskStatus = models.TaskStatusFinished
	}
	if err := e.Store.UpdateTaskStatus(taskID, newTaskStatus); err != nil {
		return fmt.Errorf("transition after execution: %w", err)
	}

	if success {
		logrus.Infof("schedulertask: successfully executed task %s", taskID)
	} else {
		logrus.Errorf("schedulertask: failed to execute task %s", taskID)
	}
	return nil
}

// fieldMapping mirrors _make_process_email_request's email_request ->
// form-field mapping, including the dual snake_case/camelCase aliases
// the original API accepts.
var fieldMapping = map[string]string{
	"from_email":         "from_email",
	"to":                 "to",
	"subject":            "subject",
	"textContent":        "textContent",
	"text_content":       "textContent",
	"htmlContent":        "htmlContent",
	"html_content":       "htmlContent",
	"messageId":          "messageId",
	"parent_message_id":  "parent_message_id",
	"date":               "date",
	"rawHeaders":         "rawHeaders",
	"raw_headers":        "rawHeaders",
}

func (e *Executor) callProcessEmail(ctx context.Context, taskID uuid.UUID, emailRequest models.JSONMap) bool {
	form := url.Values{}
	form.Set("scheduled_task_id", taskID.String())

	for requestField, formField := range fieldMapping {
		value, ok := emailRequest[requestField]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			form.Set(formField, v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			form.Set(formField, string(encoded))
		}
	}

	if e.APIKey == "" {
		logrus.Errorf("schedulertask: X_API_KEY not configured, cannot authenticate self-callback for task %s", taskID)
		return false
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, values := range form {
		for _, v := range values {
			if err := mw.WriteField(field, v); err != nil {
				logrus.Errorf("schedulertask: build form for task %s: %v", taskID, err)
				return false
			}
		}
	}
	if err := mw.Close(); err != nil {
		logrus.Errorf("schedulertask: build form for task %s: %v", taskID, err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/process-email", &body)
	if err != nil {
		logrus.Errorf("schedulertask: build request for task %s: %v", taskID, err)
		return false
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-api-key", e.APIKey)

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		logrus.Errorf("schedulertask: self-callback request failed for task %s: %v", taskID, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		logrus.Infof("schedulertask: self-callback succeeded for task %s", taskID)
		return true
	}
	logrus.Errorf("schedulertask: self-callback failed for task %s: status %d", taskID, resp.StatusCode)
	return false
}

// isRecurring inverts scheduler.IsOneTimeTask, matching
// _is_recurring_cron_expression's relationship to is_one_time_task.
func isRecurring(cronExpr string) bool {
	return !scheduler.IsOneTimeTask(cronExpr)
}

func cloneRequest(m models.JSONMap) models.JSONMap {
	out := make(models.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
