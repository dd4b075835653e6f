package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-platform-api/internal/models"
)

const courseColumns = `id, title, description, status, starts_at, ends_at, enrollment_deadline, published, seat_limit, created_at, updated_at`

// CourseRepository handles persistence of courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create persists a new course and assigns its id.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	if course.Status == "" {
		course.Status = models.CourseStatusPlanned
	}

	const query = `INSERT INTO courses (title, description, status, starts_at, ends_at, enrollment_deadline, published, seat_limit, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query,
		course.Title, course.Description, course.Status,
		course.StartsAt, course.EndsAt, course.EnrollmentDeadline,
		course.Published, course.SeatLimit, course.CreatedAt, course.UpdatedAt,
	).Scan(&course.ID); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id int64) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE id = $1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := `FROM courses`
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Published != nil {
		conditions = append(conditions, fmt.Sprintf("published = $%d", len(args)+1))
		args = append(args, *filter.Published)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("title ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"starts_at":  "starts_at",
		"ends_at":    "ends_at",
		"title":      "title",
		"created_at": "created_at",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "starts_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "starts_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		courseColumns, base+clause, orderBy, order, size, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// UpdateStatusFrom applies a status change only if the course is still in the
// expected source state. Returns false when the guard did not match, which
// means another writer moved the course first.
func (r *CourseRepository) UpdateStatusFrom(ctx context.Context, id int64, from, to models.CourseStatus) (bool, error) {
	const query = `UPDATE courses SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update course status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update course status affected: %w", err)
	}
	return affected == 1, nil
}

// StartDue moves planned courses whose window has opened into IN_PROGRESS.
// The predicate and the write share a single statement so a row cannot be
// observed eligible and then written from a stale read.
func (r *CourseRepository) StartDue(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE courses SET status = $1, updated_at = $2
        WHERE status = $3 AND starts_at <= $2 AND ends_at > $2`
	res, err := r.db.ExecContext(ctx, query, models.CourseStatusInProgress, now, models.CourseStatusPlanned)
	if err != nil {
		return 0, fmt.Errorf("start due courses: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("start due courses affected: %w", err)
	}
	return affected, nil
}

// FinishElapsed moves running courses whose window has closed into FINISHED
// and publishes them.
func (r *CourseRepository) FinishElapsed(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE courses SET status = $1, published = TRUE, updated_at = $2
        WHERE status = $3 AND ends_at <= $2`
	res, err := r.db.ExecContext(ctx, query, models.CourseStatusFinished, now, models.CourseStatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("finish elapsed courses: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("finish elapsed courses affected: %w", err)
	}
	return affected, nil
}
