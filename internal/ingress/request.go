package ingress

import (
	"mime/multipart"

	"github.com/mxrelay/mxrelay/internal/handles"
)

// Attachment is one file part of an inbound multipart request, captured
// before it is persisted to the attachments directory.
type Attachment struct {
	Filename string
	Size     int64
	Header   *multipart.FileHeader
}

// Request is the parsed form of an inbound POST /process-email call,
// before handle resolution and attachment persistence.
type Request struct {
	FromEmail        string
	To               string
	Subject          string
	TextContent      string
	HTMLContent      string
	MessageID        string
	Date             string
	EmailID          string
	RawHeaders       string
	CC               string
	ScheduledTaskID  string
	Attachments      []Attachment

	// Populated by validators as the chain progresses.
	NormalizedSender string
	NormalizedDomain string
	Handle           string
	HandleConfig     handles.Config
}

// IsSchedulerCallback reports whether this request carries the marker
// the scheduler attaches to its self-callback re-entries.
func (r *Request) IsSchedulerCallback() bool {
	return r.ScheduledTaskID != ""
}
