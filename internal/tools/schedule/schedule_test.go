package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mxrelay/mxrelay/internal/models"
	"github.com/mxrelay/mxrelay/internal/store"
)

type fakeJobAdder struct {
	fail  bool
	added []string
}

func (f *fakeJobAdder) AddJob(jobID string, taskID uuid.UUID, cronExpr string) error {
	if f.fail {
		return errors.New("job registration failed")
	}
	f.added = append(f.added, jobID)
	return nil
}

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)
	return store.New(gdb), mock
}

func TestSchedule_RefusesRecursiveScheduling(t *testing.T) {
	st, _ := newMockStore(t)
	tool := New(st, &fakeJobAdder{})

	_, err := tool.Schedule(context.Background(), Request{
		CurrentScheduledTaskID: "some-task",
		CronExpression:         "30 9 * * 1",
	})
	assert.ErrorIs(t, err, ErrRecursiveScheduling)
}

func TestSchedule_RejectsInvalidCron(t *testing.T) {
	st, _ := newMockStore(t)
	tool := New(st, &fakeJobAdder{})

	_, err := tool.Schedule(context.Background(), Request{
		CronExpression:                  "not a cron",
		TaskDescription:                 "weekly digest",
		DistilledFutureTaskInstructions: "send the weekly digest",
	})
	assert.Error(t, err)
}

func TestSchedule_RejectsMissingTaskDescription(t *testing.T) {
	st, _ := newMockStore(t)
	tool := New(st, &fakeJobAdder{})

	_, err := tool.Schedule(context.Background(), Request{CronExpression: "30 9 * * 1"})
	assert.Error(t, err)
}

func TestSchedule_HappyPathCreatesActiveTask(t *testing.T) {
	st, mock := newMockStore(t)
	adder := &fakeJobAdder{}
	tool := New(st, adder)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "tasks"`).WillReturnRows(sqlmock.NewRows([]string{"task_id"}))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "tasks"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT \* FROM "tasks"`).
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "status"}).AddRow(uuid.New(), "INITIALISED"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "tasks"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := tool.Schedule(context.Background(), Request{
		CapturedRequest:                 models.JSONMap{"from_email": "alice@example.com", "handle": "research"},
		CronExpression:                  "30 9 * * 1",
		TaskDescription:                 "weekly digest",
		DistilledFutureTaskInstructions: "send the weekly digest",
	})
	require.NoError(t, err)
	assert.Equal(t, "30 9 * * 1", result.CronExpression)
	assert.Len(t, adder.added, 1)
}

func TestSchedule_RollsBackTaskWhenJobRegistrationFails(t *testing.T) {
	st, mock := newMockStore(t)
	adder := &fakeJobAdder{fail: true}
	tool := New(st, adder)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "tasks"`).WillReturnRows(sqlmock.NewRows([]string{"task_id"}))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT \* FROM "tasks"`).
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "status"}).AddRow(uuid.New(), "INITIALISED"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "tasks"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := tool.Schedule(context.Background(), Request{
		CapturedRequest:                 models.JSONMap{"from_email": "alice@example.com"},
		CronExpression:                  "30 9 * * 1",
		TaskDescription:                 "weekly digest",
		DistilledFutureTaskInstructions: "send the weekly digest",
	})
	assert.Error(t, err)
}
