package store

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mxrelay/mxrelay/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	return New(gdb), mock
}

func TestCreateTask_ClearsTerminalBeforeInsert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "tasks"`).
		WillReturnRows(sqlmock.NewRows([]string{"task_id"}))
	mock.ExpectCommit()

	jobID := "job-1"
	task := &models.Task{
		EmailID:        "email-1",
		Status:         models.TaskStatusDeleted,
		EmailRequest:   models.JSONMap{"from": "a@example.com"},
		SchedulerJobID: &jobID,
	}

	err := s.CreateTask(task)
	require.NoError(t, err)
	assert.Nil(t, task.EmailRequest)
	assert.Nil(t, task.SchedulerJobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTask_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "tasks"`).
		WillReturnRows(sqlmock.NewRows([]string{"task_id"}))

	_, err := s.GetTask(uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskRun_SetsUpdatedAt(t *testing.T) {
	s, mock := newMockStore(t)

	runID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "task_runs"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	run := &models.TaskRun{TaskRunID: runID, Status: models.TaskRunStatusErrored}
	run.MarkErrored("boom", time.Now().UTC())

	err := s.UpdateTaskRun(run)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
