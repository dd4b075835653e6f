package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-platform-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCourseRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO courses")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	now := time.Now().UTC()
	course := &models.Course{Title: "Go Fundamentals", StartsAt: now, EndsAt: now.Add(time.Hour)}
	err := repo.Create(context.Background(), course)
	require.NoError(t, err)
	require.Equal(t, int64(7), course.ID)
	require.Equal(t, models.CourseStatusPlanned, course.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "title", "description", "status", "starts_at", "ends_at", "enrollment_deadline", "published", "seat_limit", "created_at", "updated_at"}).
		AddRow(int64(1), "Go Fundamentals", "", models.CourseStatusPlanned, now, now.Add(time.Hour), nil, true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, description, status, starts_at, ends_at, enrollment_deadline, published, seat_limit, created_at, updated_at FROM courses WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	course, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Go Fundamentals", course.Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryUpdateStatusFrom(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
		WithArgs(int64(1), models.CourseStatusPlanned, models.CourseStatusInProgress, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateStatusFrom(context.Background(), 1, models.CourseStatusPlanned, models.CourseStatusInProgress)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryUpdateStatusFromGuardMiss(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
		WithArgs(int64(1), models.CourseStatusPlanned, models.CourseStatusInProgress, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateStatusFrom(context.Background(), 1, models.CourseStatusPlanned, models.CourseStatusInProgress)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryStartDue(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET status = $1, updated_at = $2")).
		WithArgs(models.CourseStatusInProgress, now, models.CourseStatusPlanned).
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := repo.StartDue(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(3), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryFinishElapsed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET status = $1, published = TRUE, updated_at = $2")).
		WithArgs(models.CourseStatusFinished, now, models.CourseStatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 2))

	affected, err := repo.FinishElapsed(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(2), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}
