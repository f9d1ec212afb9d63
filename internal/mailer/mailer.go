// Package mailer models the outbound SMTP transport as an external
// collaborator: a single-method interface per spec.md §9's
// "inheritance -> composition, flatten to a single-method interface"
// note. The actual SES/SMTP client is out of scope (spec.md §1); only
// a logging-only implementation is provided.
package mailer

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Reply is an outbound message sent in response to an inbound request,
// e.g. a whitelist verification email or a rejection notice.
type Reply struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers replies. The real implementation (SES/SMTP) is out
// of scope for this system; LoggingSender stands in for it.
type Sender interface {
	SendReply(ctx context.Context, reply Reply) error
}

// LoggingSender logs the reply it would have sent instead of actually
// delivering it.
type LoggingSender struct{}

// NewLoggingSender constructs a LoggingSender.
func NewLoggingSender() *LoggingSender { return &LoggingSender{} }

// SendReply implements Sender by logging the reply.
func (LoggingSender) SendReply(ctx context.Context, reply Reply) error {
	logrus.WithFields(logrus.Fields{
		"to":      reply.To,
		"subject": reply.Subject,
	}).Info("mailer: reply suppressed (no outbound transport configured)")
	return nil
}
