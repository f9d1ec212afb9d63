package ingress

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mxrelay/mxrelay/internal/handles"
	"github.com/mxrelay/mxrelay/internal/idempotency"
	"github.com/mxrelay/mxrelay/internal/mailer"
	"github.com/mxrelay/mxrelay/internal/metrics"
	"github.com/mxrelay/mxrelay/internal/ratelimit"
	"github.com/mxrelay/mxrelay/internal/whitelist"
)

// Per-file and per-request attachment caps, per spec.md §4.1's
// "attachment policy" validator.
const (
	maxAttachmentBytes = 25 * 1024 * 1024
	maxAttachmentCount = 10
)

// apiKeyValidator checks the x-api-key header before any other work is
// done, so unauthenticated load never reaches the database.
func apiKeyValidator(expected string) Validator {
	return func(c *gin.Context, req *Request) (*Response, error) {
		if c.GetHeader("x-api-key") != expected {
			return unauthorized(), nil
		}
		return nil, nil
	}
}

// rateLimitValidator enforces the fixed-window sender/domain counters.
func rateLimitValidator(limiter *ratelimit.Limiter, m *metrics.Metrics) Validator {
	return func(c *gin.Context, req *Request) (*Response, error) {
		result, err := limiter.Check(c.Request.Context(), req.FromEmail, ratelimit.PlanBeta, time.Now())
		if err != nil {
			return nil, err
		}
		if !result.Allowed {
			if m != nil {
				m.RequestsRejected.WithLabelValues("rate_limit").Inc()
			}
			return reject(http.StatusTooManyRequests, gin.H{
				"message": result.Message(),
				"status":  "error",
			}), nil
		}
		return nil, nil
	}
}

// idempotencyValidator consults and advances fingerprint state. A
// scheduler self-callback (carrying its own bypass messageId) always
// passes, per spec.md §4.3/§4.5.
func idempotencyValidator(store *idempotency.Store) Validator {
	return func(c *gin.Context, req *Request) (*Response, error) {
		if req.IsSchedulerCallback() || idempotency.IsSchedulerCallback(req.MessageID) {
			return nil, nil
		}
		state, err := store.Acquire(c.Request.Context(), req.MessageID)
		if err != nil {
			return nil, err
		}
		switch state {
		case idempotency.StateQueued:
			return reject(http.StatusConflict, gin.H{
				"message":   "Duplicate request already queued",
				"messageId": req.MessageID,
				"status":    "duplicate_queued",
			}), nil
		case idempotency.StateProcessed:
			return reject(http.StatusConflict, gin.H{
				"message":   "Duplicate request already processed",
				"messageId": req.MessageID,
				"status":    "duplicate_processed",
			}), nil
		}
		return nil, nil
	}
}

// whitelistValidator enforces the exists+verified two-state check,
// auto-enrolling never-seen senders with a best-effort verification
// email and sending enrolled-but-unverified senders a best-effort
// reject email. A nil checker means whitelisting is disabled (no-op).
func whitelistValidator(checker *whitelist.Checker, sender mailer.Sender, signupURL string) Validator {
	return func(c *gin.Context, req *Request) (*Response, error) {
		if checker == nil {
			return nil, nil
		}
		status, err := checker.Check(req.NormalizedSender)
		if err != nil {
			return nil, err
		}
		if status.Exists && status.Verified {
			return nil, nil
		}

		if !status.Exists {
			enrollResult, enrollErr := checker.Enroll(req.NormalizedSender)
			if enrollErr != nil {
				return nil, enrollErr
			}
			verificationSent := sendVerification(c.Request.Context(), sender, req.FromEmail, signupURL, enrollResult.Token)
			return reject(http.StatusForbidden, gin.H{
				"message":             "Email rejected - Email not whitelisted",
				"email":               req.NormalizedSender,
				"exists_in_whitelist": status.Exists,
				"is_verified":         status.Verified,
				"rejection_sent":      verificationSent,
			}), nil
		}

		message := "Email rejected - Email not verified"
		rejectionSent := sendRejection(c.Request.Context(), sender, req.FromEmail, message)
		return reject(http.StatusForbidden, gin.H{
			"message":             message,
			"email":               req.NormalizedSender,
			"exists_in_whitelist": status.Exists,
			"is_verified":         status.Verified,
			"rejection_sent":      rejectionSent,
		}), nil
	}
}

// handleValidator resolves the local-part of "to" through the static
// alias table. An unsupported handle rejects with 400 and a
// best-effort rejection email.
func handleValidator(sender mailer.Sender) Validator {
	return func(c *gin.Context, req *Request) (*Response, error) {
		local, _ := ratelimit.NormalizeSender(req.To)
		cfg, ok := handles.Resolve(local)
		if !ok {
			rejectionSent := sendRejection(c.Request.Context(), sender, req.FromEmail, handles.RejectionMessage(handles.Config{}))
			return reject(http.StatusBadRequest, gin.H{
				"message":        "Unsupported email handle",
				"handle":         local,
				"rejection_sent": rejectionSent,
			}), nil
		}
		req.Handle = cfg.Handle
		req.HandleConfig = cfg
		return nil, nil
	}
}

// attachmentPolicyValidator enforces the per-file size cap and total
// count cap, and rejects any attachment at all when the resolved
// handle does not process them.
func attachmentPolicyValidator() Validator {
	return func(c *gin.Context, req *Request) (*Response, error) {
		if len(req.Attachments) == 0 {
			return nil, nil
		}
		if !req.HandleConfig.ProcessAttachments {
			return reject(http.StatusBadRequest, gin.H{
				"message": "This handle does not accept attachments",
				"handle":  req.Handle,
			}), nil
		}
		if len(req.Attachments) > maxAttachmentCount {
			return reject(http.StatusBadRequest, gin.H{
				"message": "Too many attachments: limit is " + strconv.Itoa(maxAttachmentCount),
				"handle":  req.Handle,
			}), nil
		}
		for _, a := range req.Attachments {
			if a.Size > maxAttachmentBytes {
				return reject(http.StatusBadRequest, gin.H{
					"message":  "Attachment exceeds the per-file size limit",
					"filename": a.Filename,
				}), nil
			}
		}
		return nil, nil
	}
}

// sendRejection fires a best-effort reject email. Its failure is logged
// by the sender implementation and never changes the caller's response.
func sendRejection(ctx context.Context, sender mailer.Sender, to, message string) bool {
	if sender == nil || to == "" {
		return false
	}
	err := sender.SendReply(ctx, mailer.Reply{To: to, Subject: "Re: your email to mxrelay", Body: message})
	return err == nil
}

// sendVerification fires the first-enrollment verification message
// carrying the single-use token, per spec.md §4.4. signupURL is the
// base link the token is appended to; an empty signupURL still sends
// the raw token so the sender is never silently dropped.
func sendVerification(ctx context.Context, sender mailer.Sender, to, signupURL, token string) bool {
	if sender == nil || to == "" {
		return false
	}
	link := token
	if signupURL != "" {
		link = signupURL + "?token=" + url.QueryEscape(token) + "&email=" + url.QueryEscape(to)
	}
	body := "Welcome to mxrelay. Verify your email to start sending requests: " + link
	err := sender.SendReply(ctx, mailer.Reply{To: to, Subject: "Verify your email for mxrelay", Body: body})
	return err == nil
}
