// Package server assembles the gin.Engine for the API process,
// following the teacher's router.Setup pattern: release mode, recovery
// middleware, a custom access-log formatter, then explicit route
// registration.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/mxrelay/mxrelay/internal/ingress"
)

// defaultRequestTimeout is used when New is given a non-positive
// timeout, keeping every caller's ingress requests bounded even if
// misconfigured.
const defaultRequestTimeout = 30 * time.Second

// New builds the gin.Engine that cmd/api serves. requestTimeout bounds
// every request's overall deadline; pass 0 to use defaultRequestTimeout.
func New(h *ingress.Handlers, db *gorm.DB, pingRedis func() error, requestTimeout time.Duration) *gin.Engine {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggerMiddleware())
	r.Use(deadlineMiddleware(requestTimeout))

	r.GET("/health", Health(db, pingRedis))
	r.GET("/healthz", Health(db, pingRedis))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/process-email", h.ProcessEmail)

	return r
}

// deadlineMiddleware bounds the request's context with an overall
// deadline, per spec.md §5's "ingress uses an overall request deadline."
func deadlineMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
