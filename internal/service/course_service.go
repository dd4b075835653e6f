package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-platform-api/internal/models"
	"github.com/noah-isme/course-platform-api/internal/repository"
	appErrors "github.com/noah-isme/course-platform-api/pkg/errors"
)

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id int64) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	UpdateStatusFrom(ctx context.Context, id int64, from, to models.CourseStatus) (bool, error)
}

type courseCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateCourseRequest describes the course creation payload.
type CreateCourseRequest struct {
	Title              string     `json:"title" validate:"required"`
	Description        string     `json:"description"`
	StartsAt           time.Time  `json:"starts_at" validate:"required"`
	EndsAt             time.Time  `json:"ends_at" validate:"required"`
	EnrollmentDeadline *time.Time `json:"enrollment_deadline"`
	Published          bool       `json:"published"`
	SeatLimit          *int       `json:"seat_limit" validate:"omitempty,gte=1"`
}

// CourseService orchestrates course workflows and the manual lifecycle
// state machine.
type CourseService struct {
	repo      courseRepository
	cache     courseCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService. cache may be nil.
func NewCourseService(repo courseRepository, cache courseCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// Create validates and persists a new course in the PLANNED state.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if !req.StartsAt.Before(req.EndsAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "starts_at must be before ends_at")
	}
	if req.EnrollmentDeadline != nil && req.EnrollmentDeadline.After(req.StartsAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment_deadline must not be after starts_at")
	}

	course := &models.Course{
		Title:              req.Title,
		Description:        req.Description,
		Status:             models.CourseStatusPlanned,
		StartsAt:           req.StartsAt,
		EndsAt:             req.EndsAt,
		EnrollmentDeadline: req.EnrollmentDeadline,
		Published:          req.Published,
		SeatLimit:          req.SeatLimit,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.invalidateCache(ctx)
	return course, nil
}

// Get returns a course by id, served from cache when possible.
func (s *CourseService) Get(ctx context.Context, id int64) (*models.Course, error) {
	key := repository.CourseDetailKey(id)
	if s.cache != nil {
		var cached models.Course
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, course, s.cacheTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache course", "course_id", id, "error", err)
		}
	}
	return course, nil
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	if filter.Status != "" && !models.ValidCourseStatus(filter.Status) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown course status")
	}
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return courses, pagination, nil
}

// Transition applies a manual lifecycle transition, validating the edge
// against the transition table. The persisted update is guarded by the
// loaded source state so a concurrent writer cannot double-apply.
func (s *CourseService) Transition(ctx context.Context, id int64, target models.CourseStatus) (*models.Course, error) {
	if !models.ValidCourseStatus(target) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown course status")
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if !models.CanTransition(course.Status, target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot transition course from %s to %s", course.Status, target))
	}

	ok, err := s.repo.UpdateStatusFrom(ctx, id, course.Status, target)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition course")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course state changed concurrently, retry")
	}

	s.invalidateCache(ctx)

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload course")
	}
	s.logger.Sugar().Infow("course transitioned", "course_id", id, "from", course.Status, "to", target)
	return updated, nil
}

func (s *CourseService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, repository.CourseCachePattern()); err != nil {
		s.logger.Sugar().Warnw("failed to invalidate course cache", "error", err)
	}
}
