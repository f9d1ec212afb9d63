package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthResponse is the minimal status object spec.md §6 names for
// GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Redis     string    `json:"redis"`
}

// Health reports readiness of the database connection this process
// holds; a per-process Redis ping is supplied by the caller.
func Health(db *gorm.DB, pingRedis func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{Status: "ok", Timestamp: time.Now().UTC(), Database: "ok", Redis: "ok"}

		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			resp.Status = "error"
			resp.Database = "error"
			logrus.WithError(err).Error("server: database health check failed")
		}

		if pingRedis != nil {
			if err := pingRedis(); err != nil {
				resp.Status = "error"
				resp.Redis = "error"
				logrus.WithError(err).Error("server: redis health check failed")
			}
		}

		status := http.StatusOK
		if resp.Status == "error" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}
