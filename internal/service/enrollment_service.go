package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-platform-api/internal/models"
	"github.com/noah-isme/course-platform-api/internal/repository"
	appErrors "github.com/noah-isme/course-platform-api/pkg/errors"
)

type enrollmentRepository interface {
	Admit(ctx context.Context, courseID, learnerID int64, now time.Time) (*models.Enrollment, error)
	Approve(ctx context.Context, id int64, now time.Time) (bool, error)
	FindByID(ctx context.Context, id int64) (*models.Enrollment, error)
	UpdateStatusFrom(ctx context.Context, id int64, from []models.EnrollmentStatus, to models.EnrollmentStatus, reason *string) (bool, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type learnerReader interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

// notifier delivers fire-and-forget notifications. Dispatch must never
// block on or surface delivery failures.
type notifier interface {
	Dispatch(n models.Notification)
}

type admissionObserver interface {
	ObserveAdmission(outcome string)
}

// EnrollRequest describes the admission payload.
type EnrollRequest struct {
	LearnerID int64 `json:"learner_id" validate:"required"`
	CourseID  int64 `json:"course_id" validate:"required"`
}

// EnrollmentService is the admission controller: it decides admit/reject
// for enrollment requests and drives the enrollment state machine.
type EnrollmentService struct {
	repo      enrollmentRepository
	learners  learnerReader
	notifier  notifier
	metrics   admissionObserver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService. notifier and metrics may be nil.
func NewEnrollmentService(repo enrollmentRepository, learners learnerReader, notifier notifier, metrics admissionObserver, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, learners: learners, notifier: notifier, metrics: metrics, validator: validate, logger: logger}
}

// Enroll admits a learner into a course, creating a PENDING enrollment.
// Eligibility is checked first; the capacity and duplicate checks run inside
// the repository's admission transaction so concurrent requests for the same
// course cannot oversell seats.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	learner, err := s.learners.FindByID(ctx, req.LearnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "learner not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load learner")
	}
	if !learner.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "learner account is inactive")
	}
	if learner.Role == models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "administrator accounts cannot enroll")
	}

	enrollment, err := s.repo.Admit(ctx, req.CourseID, req.LearnerID, time.Now().UTC())
	if err != nil {
		return nil, s.mapAdmissionError(err)
	}

	s.observe("admitted")
	s.logger.Sugar().Infow("enrollment admitted",
		"enrollment_id", enrollment.ID, "course_id", req.CourseID, "learner_id", req.LearnerID)
	return enrollment, nil
}

// Approve moves a PENDING enrollment to ACCEPTED and notifies the learner.
// The repository runs the transition inside a transaction that locks the
// course and re-checks the seat limit, so an approval can never push the
// accepted count past capacity.
func (s *EnrollmentService) Approve(ctx context.Context, id int64) (*models.Enrollment, error) {
	enrollment, err := s.loadForDecision(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.Approve(ctx, id, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		case errors.Is(err, repository.ErrCourseFull):
			return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "course seat limit reached, reject or wait for a cancellation")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve enrollment")
		}
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is no longer pending")
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload enrollment")
	}

	s.notify(models.Notification{
		UserID:  enrollment.LearnerID,
		Kind:    models.NotificationKindEnrollmentApproved,
		Message: "Your enrollment has been approved",
		Link:    fmt.Sprintf("/courses/%d", enrollment.CourseID),
	})
	s.logger.Sugar().Infow("enrollment approved", "enrollment_id", id)
	return updated, nil
}

// Reject moves a PENDING enrollment to REJECTED with an optional reason and
// notifies the learner.
func (s *EnrollmentService) Reject(ctx context.Context, id int64, reason *string) (*models.Enrollment, error) {
	enrollment, err := s.loadForDecision(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.UpdateStatusFrom(ctx, id, []models.EnrollmentStatus{models.EnrollmentStatusPending}, models.EnrollmentStatusRejected, reason)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject enrollment")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is no longer pending")
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload enrollment")
	}

	message := "Your enrollment has been rejected"
	if reason != nil && *reason != "" {
		message = fmt.Sprintf("Your enrollment has been rejected: %s", *reason)
	}
	s.notify(models.Notification{
		UserID:  enrollment.LearnerID,
		Kind:    models.NotificationKindEnrollmentRejected,
		Message: message,
		Link:    fmt.Sprintf("/courses/%d", enrollment.CourseID),
	})
	s.logger.Sugar().Infow("enrollment rejected", "enrollment_id", id)
	return updated, nil
}

// Cancel withdraws a PENDING or ACCEPTED enrollment. Only the enrollment's
// own learner or an admin may cancel. Cancelling only frees a seat, so no
// capacity check is involved.
func (s *EnrollmentService) Cancel(ctx context.Context, id, callerID int64, callerIsAdmin bool) error {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if !callerIsAdmin && enrollment.LearnerID != callerID {
		return appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another learner")
	}
	switch enrollment.Status {
	case models.EnrollmentStatusCancelled:
		return appErrors.Clone(appErrors.ErrAlreadyCancelled, "")
	case models.EnrollmentStatusRejected:
		return appErrors.Clone(appErrors.ErrInvalidState, "rejected enrollments cannot be cancelled")
	}

	ok, err := s.repo.UpdateStatusFrom(ctx, id,
		[]models.EnrollmentStatus{models.EnrollmentStatusPending, models.EnrollmentStatusAccepted},
		models.EnrollmentStatusCancelled, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	if !ok {
		// The guard can only miss when a concurrent writer moved the row
		// between the read and the update. Re-read so a racing cancel is
		// reported as already cancelled rather than a generic conflict.
		if current, rerr := s.repo.FindByID(ctx, id); rerr == nil && current.Status == models.EnrollmentStatusCancelled {
			return appErrors.Clone(appErrors.ErrAlreadyCancelled, "")
		}
		return appErrors.Clone(appErrors.ErrInvalidState, "enrollment state changed concurrently")
	}

	s.logger.Sugar().Infow("enrollment cancelled", "enrollment_id", id, "caller_id", callerID)
	return nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
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
	return enrollments, pagination, nil
}

func (s *EnrollmentService) loadForDecision(ctx context.Context, id int64) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("enrollment is %s, only PENDING enrollments can be decided", enrollment.Status))
	}
	return enrollment, nil
}

func (s *EnrollmentService) mapAdmissionError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.observe("course_not_found")
		return appErrors.Clone(appErrors.ErrNotFound, "course not found")
	case errors.Is(err, repository.ErrCourseHidden):
		s.observe("course_hidden")
		return appErrors.Clone(appErrors.ErrNotFound, "course not available")
	case errors.Is(err, repository.ErrCourseClosed):
		s.observe("course_closed")
		return appErrors.Clone(appErrors.ErrInvalidState, "course is not open for enrollment")
	case errors.Is(err, repository.ErrDeadlinePassed):
		s.observe("deadline_passed")
		return appErrors.Clone(appErrors.ErrDeadlinePassed, "")
	case errors.Is(err, repository.ErrEnrollmentDuplicate):
		s.observe("duplicate")
		return appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
	case errors.Is(err, repository.ErrCourseFull):
		s.observe("capacity_exceeded")
		return appErrors.Clone(appErrors.ErrCapacityExceeded, "")
	default:
		s.observe("error")
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to admit enrollment")
	}
}

// notify hands the notification to the dispatcher. Delivery happens after
// the enrollment transaction has committed and its failure never affects
// the caller.
func (s *EnrollmentService) notify(n models.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(n)
}

func (s *EnrollmentService) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveAdmission(outcome)
	}
}
