package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	db := &DatabaseConfig{Host: "localhost", Port: 5432, User: "u", Password: "p", Name: "mxrelay", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5432 user=u password=p dbname=mxrelay sslmode=disable", db.DSN())
}

func TestValidate_RequiresCoreFields(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())

	cfg = &Config{
		Server:   ServerConfig{Port: "8000"},
		Database: DatabaseConfig{Host: "localhost", User: "u", Name: "mxrelay"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Auth:     AuthConfig{APIKey: "secret"},
		Scheduler: SchedulerConfig{MaxWorkers: 1},
	}
	assert.NoError(t, cfg.Validate())
}
