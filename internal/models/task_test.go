package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClearIfTerminal(t *testing.T) {
	jobID := "job-123"
	task := &Task{
		TaskID:         uuid.New(),
		Status:         TaskStatusFinished,
		EmailRequest:   JSONMap{"from_email": "a@example.com"},
		SchedulerJobID: &jobID,
	}

	task.ClearIfTerminal()

	assert.Nil(t, task.EmailRequest)
	assert.Nil(t, task.SchedulerJobID)
}

func TestClearIfTerminal_NonTerminalUntouched(t *testing.T) {
	jobID := "job-123"
	task := &Task{
		Status:         TaskStatusActive,
		EmailRequest:   JSONMap{"from_email": "a@example.com"},
		SchedulerJobID: &jobID,
	}

	task.ClearIfTerminal()

	assert.NotNil(t, task.EmailRequest)
	assert.NotNil(t, task.SchedulerJobID)
}

func TestIsActiveIsTerminal(t *testing.T) {
	assert.True(t, IsActive(TaskStatusInitialised))
	assert.True(t, IsActive(TaskStatusActive))
	assert.True(t, IsActive(TaskStatusExecuting))
	assert.False(t, IsActive(TaskStatusFinished))

	assert.True(t, IsTerminal(TaskStatusFinished))
	assert.True(t, IsTerminal(TaskStatusDeleted))
	assert.False(t, IsTerminal(TaskStatusActive))
}

func TestOwnerEmail(t *testing.T) {
	t.Run("from_email preferred", func(t *testing.T) {
		task := &Task{EmailRequest: JSONMap{"from_email": "a@example.com", "from": "b@example.com"}}
		email, ok := task.OwnerEmail()
		assert.True(t, ok)
		assert.Equal(t, "a@example.com", email)
	})

	t.Run("falls back to from", func(t *testing.T) {
		task := &Task{EmailRequest: JSONMap{"from": "b@example.com"}}
		email, ok := task.OwnerEmail()
		assert.True(t, ok)
		assert.Equal(t, "b@example.com", email)
	})

	t.Run("missing request", func(t *testing.T) {
		task := &Task{}
		_, ok := task.OwnerEmail()
		assert.False(t, ok)
	})
}
