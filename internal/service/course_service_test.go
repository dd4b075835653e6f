package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-platform-api/internal/models"
	appErrors "github.com/noah-isme/course-platform-api/pkg/errors"
)

type mockCourseRepo struct {
	courses     map[int64]models.Course
	nextID      int64
	updateCalls []struct{ From, To models.CourseStatus }
	guardMiss   bool
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if m.courses == nil {
		m.courses = make(map[int64]models.Course)
	}
	m.nextID++
	course.ID = m.nextID
	m.courses[course.ID] = *course
	return nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id int64) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var list []models.Course
	for _, c := range m.courses {
		list = append(list, c)
	}
	return list, len(list), nil
}

func (m *mockCourseRepo) UpdateStatusFrom(ctx context.Context, id int64, from, to models.CourseStatus) (bool, error) {
	m.updateCalls = append(m.updateCalls, struct{ From, To models.CourseStatus }{from, to})
	if m.guardMiss {
		return false, nil
	}
	c, ok := m.courses[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	m.courses[id] = c
	return true, nil
}

func newCourseService(repo *mockCourseRepo) *CourseService {
	return NewCourseService(repo, nil, 0, validator.New(), zap.NewNop())
}

func courseFixture(status models.CourseStatus) models.Course {
	now := time.Now().UTC()
	return models.Course{
		ID:       1,
		Title:    "Go Fundamentals",
		Status:   status,
		StartsAt: now.Add(24 * time.Hour),
		EndsAt:   now.Add(48 * time.Hour),
	}
}

func TestCourseServiceCreate(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := newCourseService(repo)

	now := time.Now().UTC()
	course, err := svc.Create(context.Background(), CreateCourseRequest{
		Title:    "Go Fundamentals",
		StartsAt: now.Add(24 * time.Hour),
		EndsAt:   now.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusPlanned, course.Status)
	assert.NotZero(t, course.ID)
}

func TestCourseServiceCreateRejectsInvertedWindow(t *testing.T) {
	svc := newCourseService(&mockCourseRepo{})

	now := time.Now().UTC()
	_, err := svc.Create(context.Background(), CreateCourseRequest{
		Title:    "Go Fundamentals",
		StartsAt: now.Add(48 * time.Hour),
		EndsAt:   now.Add(24 * time.Hour),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCreateRejectsLateDeadline(t *testing.T) {
	svc := newCourseService(&mockCourseRepo{})

	now := time.Now().UTC()
	deadline := now.Add(36 * time.Hour)
	_, err := svc.Create(context.Background(), CreateCourseRequest{
		Title:              "Go Fundamentals",
		StartsAt:           now.Add(24 * time.Hour),
		EndsAt:             now.Add(48 * time.Hour),
		EnrollmentDeadline: &deadline,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceTransitionMatrix(t *testing.T) {
	all := []models.CourseStatus{
		models.CourseStatusPlanned,
		models.CourseStatusInProgress,
		models.CourseStatusFinished,
		models.CourseStatusArchived,
	}
	legal := map[models.CourseStatus]map[models.CourseStatus]bool{
		models.CourseStatusPlanned:    {models.CourseStatusInProgress: true, models.CourseStatusArchived: true},
		models.CourseStatusInProgress: {models.CourseStatusFinished: true, models.CourseStatusArchived: true},
		models.CourseStatusFinished:   {models.CourseStatusArchived: true},
		models.CourseStatusArchived:   {models.CourseStatusPlanned: true},
	}

	for _, from := range all {
		for _, to := range all {
			repo := &mockCourseRepo{courses: map[int64]models.Course{1: courseFixture(from)}}
			svc := newCourseService(repo)

			updated, err := svc.Transition(context.Background(), 1, to)
			if legal[from][to] {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, updated.Status)
			} else {
				require.Error(t, err, "%s -> %s", from, to)
				assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code, "%s -> %s", from, to)
			}
		}
	}
}

func TestCourseServiceTransitionUnknownTarget(t *testing.T) {
	repo := &mockCourseRepo{courses: map[int64]models.Course{1: courseFixture(models.CourseStatusPlanned)}}
	svc := newCourseService(repo)

	_, err := svc.Transition(context.Background(), 1, "DELETED")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceTransitionNotFound(t *testing.T) {
	svc := newCourseService(&mockCourseRepo{})

	_, err := svc.Transition(context.Background(), 99, models.CourseStatusInProgress)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceTransitionGuardMiss(t *testing.T) {
	repo := &mockCourseRepo{courses: map[int64]models.Course{1: courseFixture(models.CourseStatusPlanned)}, guardMiss: true}
	svc := newCourseService(repo)

	_, err := svc.Transition(context.Background(), 1, models.CourseStatusInProgress)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceGetNotFound(t *testing.T) {
	svc := newCourseService(&mockCourseRepo{})

	_, err := svc.Get(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceListRejectsUnknownStatus(t *testing.T) {
	svc := newCourseService(&mockCourseRepo{})

	_, _, err := svc.List(context.Background(), models.CourseFilter{Status: "DELETED"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
