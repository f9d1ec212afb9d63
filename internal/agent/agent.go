// Package agent models the LLM agent and its tools as an external
// collaborator, per spec.md §1's list of out-of-scope concerns: the
// agent itself, attachment-content conversion/OCR, web search backends,
// and prompt text are all named there as named Go interfaces rather
// than implemented.
package agent

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Request is everything the agent needs to process one inbound email.
type Request struct {
	MessageID string
	Handle    string
	Request   map[string]interface{}
}

// ScheduleIntent carries the agent's decision to schedule a future
// re-execution of the request it just processed. The worker forwards
// this to internal/tools/schedule after Process returns.
type ScheduleIntent struct {
	CronExpression                  string
	DistilledFutureTaskInstructions string
	TaskDescription                 string
	NextRunTime                     *time.Time
	StartTime                       *time.Time
	ExpiryTime                      *time.Time
}

// DeleteIntent carries the agent's decision to delete a previously
// scheduled task. The worker forwards this to internal/tools/deletetask
// after Process returns.
type DeleteIntent struct {
	TaskID          string
	RequestingEmail string
}

// Result is the outcome of processing a request. Schedule and Delete are
// set only when the agent decided to invoke the corresponding tool;
// both are nil for an ordinary request.
type Result struct {
	Success       bool
	ResultEmailID string
	Error         string
	Schedule      *ScheduleIntent
	Delete        *DeleteIntent
}

// Agent processes a handle-resolved email request. The real
// implementation (LLM orchestration, tool calling, web search,
// attachment OCR) is out of scope; Stub stands in for it.
type Agent interface {
	Process(ctx context.Context, req Request) (Result, error)
}

// Stub acknowledges a request without doing any real processing,
// standing in for the out-of-scope agent.
type Stub struct{}

// NewStub constructs a Stub agent.
func NewStub() *Stub { return &Stub{} }

// Process implements Agent by logging the request and reporting
// success, since no attachment conversion or LLM call is available.
func (Stub) Process(ctx context.Context, req Request) (Result, error) {
	logrus.WithFields(logrus.Fields{
		"message_id": req.MessageID,
		"handle":     req.Handle,
	}).Info("agent: processed by stub (no LLM backend configured)")
	return Result{Success: true, ResultEmailID: req.MessageID}, nil
}
