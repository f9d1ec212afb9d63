package scheduler

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockJobStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	return NewJobStore(gdb), mock
}

func TestJobStore_UpsertInsertsWhenAbsent(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectQuery(`SELECT \* FROM "scheduler_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "scheduler_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))
	mock.ExpectCommit()

	err := s.Upsert(Job{JobID: "job-1", TaskID: uuid.New(), CronExpression: "0 9 * * *"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_UpdateNextRunTime(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "scheduler_jobs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.UpdateNextRunTime("job-1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_RemoveReportsWhetherRowExisted(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "scheduler_jobs"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := s.Remove("job-1")
	require.NoError(t, err)
	require.True(t, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}
