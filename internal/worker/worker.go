// Package worker drains the durable queue ingress enqueues work onto,
// re-checks idempotency immediately before invoking the out-of-scope
// agent, and finalizes idempotency state once the agent returns.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mxrelay/mxrelay/internal/agent"
	"github.com/mxrelay/mxrelay/internal/idempotency"
	"github.com/mxrelay/mxrelay/internal/metrics"
	"github.com/mxrelay/mxrelay/internal/models"
	"github.com/mxrelay/mxrelay/internal/queue"
	"github.com/mxrelay/mxrelay/internal/tools/deletetask"
	"github.com/mxrelay/mxrelay/internal/tools/schedule"
)

// dequeueTimeout is how long a single BRPOP blocks before the loop
// re-checks ctx for cancellation.
const dequeueTimeout = 5 * time.Second

// Worker drains queue.Job entries and drives them through the agent.
// Scheduler and DeleteTool are the in-process handles to the
// agent-facing scheduling/deletion tools (spec.md §4.7/§4.8); either
// may be nil, in which case the corresponding intent is logged and
// dropped rather than acted on.
type Worker struct {
	Queue       *queue.Queue
	Idempotency *idempotency.Store
	Agent       agent.Agent
	Metrics     *metrics.Metrics
	Scheduler   *schedule.Tool
	DeleteTool  *deletetask.Tool
}

// New constructs a Worker.
func New(q *queue.Queue, idem *idempotency.Store, ag agent.Agent, m *metrics.Metrics) *Worker {
	return &Worker{Queue: q, Idempotency: idem, Agent: ag, Metrics: m}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, ok, err := w.Queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithError(err).Error("worker: dequeue failed")
			continue
		}
		if !ok {
			if w.Metrics != nil {
				if depth, derr := w.Queue.Depth(ctx); derr == nil {
					w.Metrics.QueueDepth.Set(float64(depth))
				}
			}
			continue
		}

		w.process(ctx, job)
	}
}

// process runs a single job through the idempotency re-check and the
// agent, finalizing idempotency state on terminal completion
// regardless of outcome (spec.md §4.3: "queued -> processed ... success
// or final failure").
func (w *Worker) process(ctx context.Context, job *queue.Job) {
	log := logrus.WithFields(logrus.Fields{
		"message_id": job.MessageID,
		"email_id":   job.EmailID,
		"handle":     job.Handle,
	})

	if !idempotency.IsSchedulerCallback(job.MessageID) {
		state, err := w.Idempotency.State(ctx, job.MessageID)
		if err != nil {
			log.WithError(err).Error("worker: idempotency re-check failed")
			return
		}
		if state == idempotency.StateProcessed {
			log.Info("worker: duplicate already processed, skipping with no side effects")
			return
		}
	}

	result, err := w.Agent.Process(ctx, agent.Request{
		MessageID: job.MessageID,
		Handle:    job.Handle,
		Request:   job.Request,
	})
	if err != nil {
		log.WithError(err).Error("worker: agent processing failed")
	} else if !result.Success {
		log.WithField("error", result.Error).Warn("worker: agent reported failure")
	}

	if result.Schedule != nil {
		w.runScheduleIntent(ctx, job, result.Schedule, log)
	}
	if result.Delete != nil {
		w.runDeleteIntent(result.Delete, log)
	}

	if !idempotency.IsSchedulerCallback(job.MessageID) {
		if markErr := w.Idempotency.MarkProcessed(ctx, job.MessageID); markErr != nil {
			log.WithError(markErr).Error("worker: failed to mark fingerprint processed")
		}
	}
}

// runScheduleIntent forwards the agent's schedule decision to
// internal/tools/schedule, per spec.md §4.7. job.TaskID is non-empty
// only when this job is itself a scheduler self-callback, which the
// tool refuses to schedule from recursively.
func (w *Worker) runScheduleIntent(ctx context.Context, job *queue.Job, intent *agent.ScheduleIntent, log *logrus.Entry) {
	if w.Scheduler == nil {
		log.Warn("worker: agent requested scheduling but no schedule tool is configured")
		return
	}
	result, err := w.Scheduler.Schedule(ctx, schedule.Request{
		CapturedRequest:                 models.JSONMap(job.Request),
		CurrentScheduledTaskID:          job.TaskID,
		CronExpression:                  intent.CronExpression,
		DistilledFutureTaskInstructions: intent.DistilledFutureTaskInstructions,
		TaskDescription:                 intent.TaskDescription,
		NextRunTime:                     intent.NextRunTime,
		StartTime:                       intent.StartTime,
		ExpiryTime:                      intent.ExpiryTime,
	})
	if err != nil {
		log.WithError(err).Warn("worker: schedule tool failed")
		return
	}
	log.WithFields(logrus.Fields{
		"task_id":         result.TaskID,
		"scheduler_job_id": result.SchedulerJobID,
		"next_execution":  result.NextExecution,
	}).Info("worker: scheduled future task")
}

// runDeleteIntent forwards the agent's deletion decision to
// internal/tools/deletetask, per spec.md §4.8.
func (w *Worker) runDeleteIntent(intent *agent.DeleteIntent, log *logrus.Entry) {
	if w.DeleteTool == nil {
		log.Warn("worker: agent requested deletion but no delete tool is configured")
		return
	}
	result := w.DeleteTool.Delete(intent.TaskID, intent.RequestingEmail)
	if !result.Success {
		log.WithField("error", result.Error).Warn("worker: delete tool failed")
		return
	}
	log.WithField("task_id", result.TaskID).Info("worker: deleted scheduled task")
}
