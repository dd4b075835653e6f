package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-platform-api/internal/models"
)

// Sentinel errors surfaced by the admission transaction. The service layer
// maps these onto the public error taxonomy.
var (
	ErrEnrollmentDuplicate = errors.New("active enrollment already exists")
	ErrCourseFull          = errors.New("course seat limit reached")
	ErrCourseHidden        = errors.New("course not visible")
	ErrCourseClosed        = errors.New("course not open for enrollment")
	ErrDeadlinePassed      = errors.New("enrollment deadline passed")
)

// uniqueViolation is the postgres error code raised by the partial unique
// index on (course_id, learner_id) over non-cancelled enrollments.
const uniqueViolation = "23505"

const enrollmentColumns = `id, course_id, learner_id, status, reason, created_at, updated_at`

// courseLockQuery serializes admissions and approvals per course. Both paths
// take the same row lock before reading the accepted seat count.
const courseLockQuery = `SELECT id, status, published, enrollment_deadline, seat_limit FROM courses WHERE id = $1 FOR UPDATE`

// admissionCourse is the course projection locked during admission.
type admissionCourse struct {
	ID                 int64               `db:"id"`
	Status             models.CourseStatus `db:"status"`
	Published          bool                `db:"published"`
	EnrollmentDeadline *time.Time          `db:"enrollment_deadline"`
	SeatLimit          *int                `db:"seat_limit"`
}

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Admit runs the admission protocol as a single transaction: lock the course
// row, verify the course is open, check for a duplicate request, count
// accepted seats against the limit, then insert the PENDING row. The FOR
// UPDATE lock serializes concurrent admissions per course so the seat count
// cannot be read stale; the partial unique index backstops the duplicate
// check independently of isolation level.
func (r *EnrollmentRepository) Admit(ctx context.Context, courseID, learnerID int64, now time.Time) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin admission tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var course admissionCourse
	if err = tx.GetContext(ctx, &course, courseLockQuery, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock course for admission: %w", err)
	}

	if !course.Published {
		err = ErrCourseHidden
		return nil, err
	}
	if course.Status != models.CourseStatusPlanned && course.Status != models.CourseStatusInProgress {
		err = ErrCourseClosed
		return nil, err
	}
	if course.EnrollmentDeadline != nil && now.After(*course.EnrollmentDeadline) {
		err = ErrDeadlinePassed
		return nil, err
	}

	var exists int
	const dupQuery = `SELECT 1 FROM enrollments WHERE course_id = $1 AND learner_id = $2 AND status <> $3 LIMIT 1`
	err = tx.GetContext(ctx, &exists, dupQuery, courseID, learnerID, models.EnrollmentStatusCancelled)
	if err == nil {
		err = ErrEnrollmentDuplicate
		return nil, err
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check duplicate enrollment: %w", err)
	}
	err = nil

	if course.SeatLimit != nil {
		var accepted int
		if accepted, err = r.CountAccepted(ctx, tx, courseID); err != nil {
			return nil, err
		}
		if accepted >= *course.SeatLimit {
			err = ErrCourseFull
			return nil, err
		}
	}

	enrollment := &models.Enrollment{
		CourseID:  courseID,
		LearnerID: learnerID,
		Status:    models.EnrollmentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	const insertQuery = `INSERT INTO enrollments (course_id, learner_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err = tx.QueryRowxContext(ctx, insertQuery,
		enrollment.CourseID, enrollment.LearnerID, enrollment.Status,
		enrollment.CreatedAt, enrollment.UpdatedAt,
	).Scan(&enrollment.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			err = ErrEnrollmentDuplicate
		} else {
			err = fmt.Errorf("insert enrollment: %w", err)
		}
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit admission tx: %w", err)
	}
	return enrollment, nil
}

// Approve moves a PENDING enrollment to ACCEPTED inside a transaction that
// locks the course row and re-checks the seat limit, so concurrent approvals
// cannot push the accepted count past capacity. Returns false when the
// enrollment is no longer pending.
func (r *EnrollmentRepository) Approve(ctx context.Context, id int64, now time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin approval tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var target struct {
		CourseID int64                   `db:"course_id"`
		Status   models.EnrollmentStatus `db:"status"`
	}
	const loadQuery = `SELECT course_id, status FROM enrollments WHERE id = $1`
	if err = tx.GetContext(ctx, &target, loadQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return false, sql.ErrNoRows
		}
		return false, fmt.Errorf("load enrollment for approval: %w", err)
	}
	if target.Status != models.EnrollmentStatusPending {
		_ = tx.Rollback()
		return false, nil
	}

	var course admissionCourse
	if err = tx.GetContext(ctx, &course, courseLockQuery, target.CourseID); err != nil {
		return false, fmt.Errorf("lock course for approval: %w", err)
	}

	if course.SeatLimit != nil {
		var accepted int
		if accepted, err = r.CountAccepted(ctx, tx, course.ID); err != nil {
			return false, err
		}
		if accepted >= *course.SeatLimit {
			err = ErrCourseFull
			return false, err
		}
	}

	const updateQuery = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	res, execErr := tx.ExecContext(ctx, updateQuery, id, models.EnrollmentStatusAccepted, now, models.EnrollmentStatusPending)
	if execErr != nil {
		err = fmt.Errorf("approve enrollment: %w", execErr)
		return false, err
	}
	affected, affErr := res.RowsAffected()
	if affErr != nil {
		err = fmt.Errorf("approve enrollment affected: %w", affErr)
		return false, err
	}
	if affected != 1 {
		_ = tx.Rollback()
		return false, nil
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit approval tx: %w", err)
	}
	return true, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// UpdateStatusFrom transitions an enrollment only when its current status is
// one of the allowed source states. Returns false when the guard missed,
// meaning a concurrent writer already moved the row.
func (r *EnrollmentRepository) UpdateStatusFrom(ctx context.Context, id int64, from []models.EnrollmentStatus, to models.EnrollmentStatus, reason *string) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	const query = `UPDATE enrollments SET status = $2, reason = COALESCE($3, reason), updated_at = $4 WHERE id = $1 AND status = ANY($5)`
	res, err := r.db.ExecContext(ctx, query, id, to, reason, time.Now().UTC(), pq.Array(states))
	if err != nil {
		return false, fmt.Errorf("update enrollment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update enrollment status affected: %w", err)
	}
	return affected == 1, nil
}

// CountAccepted returns the number of accepted enrollments for a course. It
// accepts any queryer so the admission and approval transactions can run the
// count under their course lock.
func (r *EnrollmentRepository) CountAccepted(ctx context.Context, q sqlx.QueryerContext, courseID int64) (int, error) {
	if q == nil {
		q = r.db
	}
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, courseID, models.EnrollmentStatusAccepted); err != nil {
		return 0, fmt.Errorf("count accepted enrollments: %w", err)
	}
	return count, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN courses c ON c.id = e.course_id
LEFT JOIN users u ON u.id = e.learner_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != 0 {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.LearnerID != 0 {
		conditions = append(conditions, fmt.Sprintf("e.learner_id = $%d", len(args)+1))
		args = append(args, filter.LearnerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"updated_at":   "e.updated_at",
		"course_title": "c.title",
		"learner_name": "u.full_name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.course_id, e.learner_id, e.status, e.reason, e.created_at, e.updated_at,
        c.title AS course_title, u.full_name AS learner_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}
