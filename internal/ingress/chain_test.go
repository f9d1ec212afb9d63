package ingress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mxrelay/mxrelay/internal/handles"
	"github.com/mxrelay/mxrelay/internal/idempotency"
	"github.com/mxrelay/mxrelay/internal/mailer"
	"github.com/mxrelay/mxrelay/internal/ratelimit"
	"github.com/mxrelay/mxrelay/internal/whitelist"
)

type fakeSender struct {
	sent []mailer.Reply
}

func (f *fakeSender) SendReply(ctx context.Context, reply mailer.Reply) error {
	f.sent = append(f.sent, reply)
	return nil
}

func newMockWhitelistChecker(t *testing.T) (*whitelist.Checker, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)
	return whitelist.New(gdb), mock
}

func handleConfigWithAttachments() handles.Config {
	return handles.Config{Handle: "ask", ProcessAttachments: true}
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/process-email", nil)
	return c, rec
}

func TestRunChain_StopsAtFirstResponse(t *testing.T) {
	calledSecond := false
	first := func(c *gin.Context, req *Request) (*Response, error) {
		return reject(http.StatusTeapot, gin.H{"message": "stop here"}), nil
	}
	second := func(c *gin.Context, req *Request) (*Response, error) {
		calledSecond = true
		return nil, nil
	}

	c, _ := newTestContext()
	resp, err := RunChain(c, &Request{}, first, second)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.False(t, calledSecond, "validators after a short-circuit must not run")
}

func TestRunChain_AllPassReturnsNilResponse(t *testing.T) {
	pass := func(c *gin.Context, req *Request) (*Response, error) { return nil, nil }
	c, _ := newTestContext()
	resp, err := RunChain(c, &Request{}, pass, pass)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestAPIKeyValidator_RejectsMismatch(t *testing.T) {
	c, _ := newTestContext()
	c.Request.Header.Set("x-api-key", "wrong")
	resp, err := apiKeyValidator("secret")(c, &Request{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
}

func TestAPIKeyValidator_AllowsMatch(t *testing.T) {
	c, _ := newTestContext()
	c.Request.Header.Set("x-api-key", "secret")
	resp, err := apiKeyValidator("secret")(c, &Request{})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func newMiniredisClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestIdempotencyValidator_SchedulerCallbackBypasses(t *testing.T) {
	store := idempotency.New(newMiniredisClient(t), 0)
	c, _ := newTestContext()
	req := &Request{MessageID: "<scheduled-abc-2024-01-01T00:00:00Z@mxrelay.internal>", ScheduledTaskID: "abc"}
	resp, err := idempotencyValidator(store)(c, req)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestIdempotencyValidator_DuplicateQueuedRejects(t *testing.T) {
	store := idempotency.New(newMiniredisClient(t), 0)
	c, _ := newTestContext()
	req := &Request{MessageID: "<abc@ex>"}

	resp, err := idempotencyValidator(store)(c, req)
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = idempotencyValidator(store)(c, req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "duplicate_queued", resp.Body["status"])
}

func TestRateLimitValidator_RejectsOverLimit(t *testing.T) {
	limiter := ratelimit.New(newMiniredisClient(t))
	validator := rateLimitValidator(limiter, nil)
	c, _ := newTestContext()
	req := &Request{FromEmail: "bob@test.test"}

	var last *Response
	for i := 0; i < 21; i++ {
		var err error
		last, err = validator(c, req)
		require.NoError(t, err)
	}
	require.NotNil(t, last)
	assert.Equal(t, http.StatusTooManyRequests, last.Status)
}

func TestHandleValidator_UnsupportedHandleRejects(t *testing.T) {
	c, _ := newTestContext()
	req := &Request{To: "nonsense@mxtoai.com", FromEmail: "a@b.com"}
	resp, err := handleValidator(nil)(c, req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "nonsense", resp.Body["handle"])
}

func TestHandleValidator_ResolvesKnownAlias(t *testing.T) {
	c, _ := newTestContext()
	req := &Request{To: "summary@mxtoai.com"}
	resp, err := handleValidator(nil)(c, req)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, "summarize", req.Handle)
}

func TestWhitelistValidator_FirstEnrollmentSendsVerificationTokenNotRejectionCopy(t *testing.T) {
	checker, mock := newMockWhitelistChecker(t)
	mock.ExpectQuery(`SELECT \* FROM "whitelist_entries"`).
		WillReturnRows(sqlmock.NewRows([]string{"email"}))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "whitelist_entries"`).WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("new@example.com"))
	mock.ExpectCommit()

	sender := &fakeSender{}
	c, _ := newTestContext()
	req := &Request{FromEmail: "new@example.com", NormalizedSender: "new@example.com"}

	resp, err := whitelistValidator(checker, sender, "https://mxrelay.example/verify")(c, req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, true, resp.Body["rejection_sent"])

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Verify your email for mxrelay", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Body, "https://mxrelay.example/verify?token=")
	assert.NotContains(t, sender.sent[0].Body, "not whitelisted")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWhitelistValidator_UnverifiedSendsGenericRejection(t *testing.T) {
	checker, mock := newMockWhitelistChecker(t)
	mock.ExpectQuery(`SELECT \* FROM "whitelist_entries"`).
		WillReturnRows(sqlmock.NewRows([]string{"email", "verified"}).AddRow("pending@example.com", false))

	sender := &fakeSender{}
	c, _ := newTestContext()
	req := &Request{FromEmail: "pending@example.com", NormalizedSender: "pending@example.com"}

	resp, err := whitelistValidator(checker, sender, "https://mxrelay.example/verify")(c, req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.Status)

	require.Len(t, sender.sent, 1)
	assert.True(t, strings.Contains(sender.sent[0].Body, "not verified"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentPolicyValidator_RejectsWhenHandleDisallows(t *testing.T) {
	c, _ := newTestContext()
	req := &Request{Attachments: []Attachment{{Filename: "a.txt", Size: 10}}}
	resp, err := attachmentPolicyValidator()(c, req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestAttachmentPolicyValidator_RejectsOversizeFile(t *testing.T) {
	c, _ := newTestContext()
	req := &Request{
		HandleConfig: handleConfigWithAttachments(),
		Attachments:  []Attachment{{Filename: "big.bin", Size: maxAttachmentBytes + 1}},
	}
	resp, err := attachmentPolicyValidator()(c, req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}
