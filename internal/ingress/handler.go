// Package ingress implements the POST /process-email validator chain
// and HTTP handler: authentication, rate limiting, idempotency,
// whitelisting, handle resolution, and attachment persistence, per the
// teacher's Handlers-struct-with-injected-dependencies pattern.
package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mxrelay/mxrelay/internal/idempotency"
	"github.com/mxrelay/mxrelay/internal/mailer"
	"github.com/mxrelay/mxrelay/internal/metrics"
	"github.com/mxrelay/mxrelay/internal/queue"
	"github.com/mxrelay/mxrelay/internal/ratelimit"
	"github.com/mxrelay/mxrelay/internal/whitelist"
)

// Handlers bundles every dependency the ingress endpoint needs,
// mirroring the teacher's handlers.Handlers{db, parser, scheduler,
// metrics} constructor-injection shape.
type Handlers struct {
	Limiter          *ratelimit.Limiter
	Idempotency      *idempotency.Store
	Whitelist        *whitelist.Checker // nil disables whitelisting
	Queue            *queue.Queue
	Sender           mailer.Sender
	Metrics          *metrics.Metrics
	APIKey           string
	AttachmentsDir   string
	WhitelistSignupURL string
}

// NewHandlers constructs a Handlers bundle.
func NewHandlers(limiter *ratelimit.Limiter, idem *idempotency.Store, wl *whitelist.Checker, q *queue.Queue, sender mailer.Sender, m *metrics.Metrics, apiKey, attachmentsDir, signupURL string) *Handlers {
	return &Handlers{
		Limiter:            limiter,
		Idempotency:        idem,
		Whitelist:          wl,
		Queue:              q,
		Sender:             sender,
		Metrics:            m,
		APIKey:             apiKey,
		AttachmentsDir:     attachmentsDir,
		WhitelistSignupURL: signupURL,
	}
}

// ProcessEmail handles POST /process-email.
func (h *Handlers) ProcessEmail(c *gin.Context) {
	req, err := parseRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Error processing email request", "error": err.Error()})
		return
	}

	if req.MessageID == "" {
		req.MessageID = idempotency.Derive(idempotency.Fingerprint{
			Sender:          req.FromEmail,
			Recipient:       req.To,
			Subject:         req.Subject,
			Date:            req.Date,
			HTMLBody:        req.HTMLContent,
			TextBody:        req.TextContent,
			AttachmentCount: len(req.Attachments),
		})
	}
	local, domain := ratelimit.NormalizeSender(req.FromEmail)
	req.NormalizedSender = local + "@" + domain
	req.NormalizedDomain = domain

	resp, err := RunChain(c, req,
		apiKeyValidator(h.APIKey),
		rateLimitValidator(h.Limiter, h.Metrics),
		idempotencyValidator(h.Idempotency),
		whitelistValidator(h.Whitelist, h.Sender, h.WhitelistSignupURL),
		handleValidator(h.Sender),
		attachmentPolicyValidator(),
	)
	if err != nil {
		logrus.WithError(err).Error("ingress: validator chain failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"message":             "Error processing email request",
			"error":               err.Error(),
			"attachments_saved":   0,
			"attachments_deleted": false,
		})
		return
	}
	if resp != nil {
		if h.Metrics != nil {
			h.Metrics.RequestsRejected.WithLabelValues("validation").Inc()
		}
		resp.Write(c)
		return
	}

	emailID := req.EmailID
	if emailID == "" {
		emailID = uuid.New().String()
	}

	savedDir, attachmentsSaved, err := persistAttachments(h.AttachmentsDir, emailID, req.Attachments)
	if err != nil {
		if savedDir != "" {
			_ = os.RemoveAll(savedDir)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"message":             "Error processing email request",
			"error":               err.Error(),
			"attachments_saved":   attachmentsSaved,
			"attachments_deleted": true,
		})
		return
	}

	emailRequest := buildEmailRequest(req, emailID)

	job := queue.Job{
		MessageID:      req.MessageID,
		EmailID:        emailID,
		Handle:         req.Handle,
		Request:        emailRequest,
		AttachmentsDir: savedDir,
		TaskID:         req.ScheduledTaskID,
		EnqueuedAt:     time.Now().UTC(),
	}
	if err := h.Queue.Enqueue(c.Request.Context(), job); err != nil {
		if savedDir != "" {
			_ = os.RemoveAll(savedDir)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"message":             "Error processing email request",
			"error":               err.Error(),
			"attachments_saved":   attachmentsSaved,
			"attachments_deleted": true,
		})
		return
	}

	if h.Metrics != nil {
		h.Metrics.RequestsAccepted.Inc()
		for i := 0; i < attachmentsSaved; i++ {
			h.Metrics.AttachmentsSaved.Inc()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":           "received and queued for processing",
		"email_id":          emailID,
		"attachments_saved": attachmentsSaved,
		"status":            "processing",
	})
}

// parseRequest reads the multipart form into a Request, per spec.md
// §6's form field list.
func parseRequest(c *gin.Context) (*Request, error) {
	if err := c.Request.ParseMultipartForm(maxAttachmentBytes * (maxAttachmentCount + 1)); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}

	req := &Request{
		FromEmail:       c.PostForm("from_email"),
		To:              c.PostForm("to"),
		Subject:         c.PostForm("subject"),
		TextContent:     c.PostForm("textContent"),
		HTMLContent:     c.PostForm("htmlContent"),
		MessageID:       c.PostForm("messageId"),
		Date:            c.PostForm("date"),
		EmailID:         c.PostForm("emailId"),
		RawHeaders:      c.PostForm("rawHeaders"),
		ScheduledTaskID: c.PostForm("scheduled_task_id"),
	}
	if req.FromEmail == "" || req.To == "" {
		return nil, fmt.Errorf("from_email and to are required")
	}
	if req.Date == "" {
		req.Date = time.Now().UTC().Format(time.RFC3339)
	}

	req.CC = extractCC(req.RawHeaders)

	if c.Request.MultipartForm != nil {
		for _, fh := range c.Request.MultipartForm.File["files"] {
			req.Attachments = append(req.Attachments, Attachment{Filename: fh.Filename, Size: fh.Size, Header: fh})
		}
	}
	return req, nil
}

// extractCC parses the "Cc" header out of the rawHeaders JSON object, if
// present, validating it with net/mail's address parser.
func extractCC(rawHeaders string) string {
	if rawHeaders == "" {
		return ""
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(rawHeaders), &headers); err != nil {
		return ""
	}
	cc := headers["Cc"]
	if cc == "" {
		cc = headers["cc"]
	}
	if cc == "" {
		return ""
	}
	if _, err := mail.ParseAddressList(cc); err != nil {
		return ""
	}
	return cc
}

// persistAttachments saves every attachment under
// <attachmentsDir>/<emailID>/<filename>, returning the directory it
// created (for best-effort cleanup on a later failure) and the count
// actually saved.
func persistAttachments(baseDir, emailID string, attachments []Attachment) (string, int, error) {
	if len(attachments) == 0 {
		return "", 0, nil
	}
	dir := filepath.Join(baseDir, emailID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dir, 0, fmt.Errorf("create attachments dir: %w", err)
	}
	saved := 0
	for _, a := range attachments {
		if err := saveAttachment(dir, a); err != nil {
			return dir, saved, err
		}
		saved++
	}
	return dir, saved, nil
}

func saveAttachment(dir string, a Attachment) error {
	src, err := a.Header.Open()
	if err != nil {
		return fmt.Errorf("open attachment %s: %w", a.Filename, err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, filepath.Base(a.Filename)))
	if err != nil {
		return fmt.Errorf("create attachment file %s: %w", a.Filename, err)
	}
	defer dst.Close()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write attachment file %s: %w", a.Filename, writeErr)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fmt.Errorf("read attachment %s: %w", a.Filename, readErr)
		}
	}
	return nil
}

// buildEmailRequest constructs the canonical request record persisted
// in Task.EmailRequest and enqueued on the durable queue.
func buildEmailRequest(req *Request, emailID string) map[string]interface{} {
	return map[string]interface{}{
		"from_email":        req.FromEmail,
		"from":              req.FromEmail,
		"to":                req.To,
		"subject":           req.Subject,
		"textContent":       req.TextContent,
		"htmlContent":       req.HTMLContent,
		"messageId":         req.MessageID,
		"date":              req.Date,
		"emailId":           emailID,
		"cc":                req.CC,
		"handle":            req.Handle,
		"scheduled_task_id": req.ScheduledTaskID,
		"rawHeaders":        req.RawHeaders,
		"attachments":       attachmentsMetadata(req.Attachments),
	}
}

// attachmentsMetadata captures the filename/size of each attachment
// for replay bookkeeping; the bytes themselves are never re-sent, per
// schedulertask.Executor dropping "attachments" before replaying a
// scheduled task's captured request.
func attachmentsMetadata(attachments []Attachment) []map[string]interface{} {
	metadata := make([]map[string]interface{}, 0, len(attachments))
	for _, a := range attachments {
		metadata = append(metadata, map[string]interface{}{
			"filename": a.Filename,
			"size":     a.Size,
		})
	}
	return metadata
}
