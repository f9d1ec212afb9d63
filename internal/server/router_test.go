package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDeadlineMiddleware_SetsRequestDeadline(t *testing.T) {
	r := gin.New()
	r.Use(deadlineMiddleware(50 * time.Millisecond))

	var hasDeadline bool
	r.GET("/slow", func(c *gin.Context) {
		_, hasDeadline = c.Request.Context().Deadline()
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/slow", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.True(t, hasDeadline, "requests under deadlineMiddleware must carry a context deadline")
}

func TestDeadlineMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	r := gin.New()
	r.Use(deadlineMiddleware(10 * time.Millisecond))

	done := make(chan error, 1)
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
		done <- c.Request.Context().Err()
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/slow", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("request context was never cancelled by the deadline")
	}
}
