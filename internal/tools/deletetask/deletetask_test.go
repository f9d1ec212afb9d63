package deletetask

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mxrelay/mxrelay/internal/store"
)

type fakeJobRemover struct {
	removed bool
	err     error
	calls   []string
}

func (f *fakeJobRemover) RemoveJob(jobID string) (bool, error) {
	f.calls = append(f.calls, jobID)
	return f.removed, f.err
}

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)
	return store.New(gdb), mock
}

func TestExtractTaskIDFromText(t *testing.T) {
	id := uuid.New().String()
	text := "please cancel task " + id + " for me"
	assert.Equal(t, id, ExtractTaskIDFromText(text))
	assert.Equal(t, "", ExtractTaskIDFromText("no id here"))
}

func TestDelete_InvalidUUIDFormat(t *testing.T) {
	st, _ := newMockStore(t)
	tool := New(st, &fakeJobRemover{})

	result := tool.Delete("not-a-uuid", "alice@example.com")
	assert.False(t, result.Success)
	assert.Equal(t, "Invalid task ID format", result.Error)
}

func TestDelete_TaskNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	tool := New(st, &fakeJobRemover{})

	taskID := uuid.New()
	mock.ExpectQuery(`SELECT \* FROM "tasks"`).WillReturnRows(sqlmock.NewRows([]string{"task_id"}))

	result := tool.Delete(taskID.String(), "alice@example.com")
	assert.False(t, result.Success)
	assert.Equal(t, "Task not found", result.Error)
}

func TestDelete_PermissionDeniedOnMismatchedOwner(t *testing.T) {
	st, mock := newMockStore(t)
	tool := New(st, &fakeJobRemover{})

	taskID := uuid.New()
	mock.ExpectQuery(`SELECT \* FROM "tasks"`).WillReturnRows(
		sqlmock.NewRows([]string{"task_id", "status", "email_request"}).
			AddRow(taskID, "ACTIVE", `{"from_email":"bob@example.com"}`),
	)

	result := tool.Delete(taskID.String(), "alice@example.com")
	assert.False(t, result.Success)
	assert.Equal(t, "Permission denied", result.Error)
}

func TestDelete_SuccessRemovesSchedulerJobAndMarksDeleted(t *testing.T) {
	st, mock := newMockStore(t)
	remover := &fakeJobRemover{removed: true}
	tool := New(st, remover)

	taskID := uuid.New()
	jobID := "job-1"
	mock.ExpectQuery(`SELECT \* FROM "tasks"`).WillReturnRows(
		sqlmock.NewRows([]string{"task_id", "status", "email_request", "scheduler_job_id"}).
			AddRow(taskID, "ACTIVE", `{"from_email":"ALICE@example.com"}`, jobID),
	)
	mock.ExpectQuery(`SELECT \* FROM "tasks"`).WillReturnRows(
		sqlmock.NewRows([]string{"task_id", "status"}).AddRow(taskID, "ACTIVE"),
	)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "tasks"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result := tool.Delete(taskID.String(), "alice@example.com")
	require.True(t, result.Success)
	assert.True(t, result.SchedulerRemoved)
	assert.Equal(t, []string{jobID}, remover.calls)
}

func TestDelete_CorruptedDataWhenEmailRequestMissing(t *testing.T) {
	st, mock := newMockStore(t)
	tool := New(st, &fakeJobRemover{})

	taskID := uuid.New()
	mock.ExpectQuery(`SELECT \* FROM "tasks"`).WillReturnRows(
		sqlmock.NewRows([]string{"task_id", "status"}).AddRow(taskID, "ACTIVE"),
	)

	result := tool.Delete(taskID.String(), "alice@example.com")
	assert.False(t, result.Success)
	assert.Equal(t, "Corrupted task data", result.Error)
}
