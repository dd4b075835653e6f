package models

import "time"

// CourseStatus represents the lifecycle state of a course.
type CourseStatus string

// Possible course lifecycle states.
const (
	CourseStatusPlanned    CourseStatus = "PLANNED"
	CourseStatusInProgress CourseStatus = "IN_PROGRESS"
	CourseStatusFinished   CourseStatus = "FINISHED"
	CourseStatusArchived   CourseStatus = "ARCHIVED"
)

// courseTransitions is the closed set of legal manual transitions.
var courseTransitions = map[CourseStatus][]CourseStatus{
	CourseStatusPlanned:    {CourseStatusInProgress, CourseStatusArchived},
	CourseStatusInProgress: {CourseStatusFinished, CourseStatusArchived},
	CourseStatusFinished:   {CourseStatusArchived},
	CourseStatusArchived:   {CourseStatusPlanned},
}

// ValidCourseStatus reports whether the value is a known lifecycle state.
func ValidCourseStatus(s CourseStatus) bool {
	switch s {
	case CourseStatusPlanned, CourseStatusInProgress, CourseStatusFinished, CourseStatusArchived:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the edge from -> to exists in the lifecycle graph.
func CanTransition(from, to CourseStatus) bool {
	for _, allowed := range courseTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Course is a scheduled offering with a fixed lifecycle and optional seat limit.
type Course struct {
	ID                 int64        `db:"id" json:"id"`
	Title              string       `db:"title" json:"title"`
	Description        string       `db:"description" json:"description"`
	Status             CourseStatus `db:"status" json:"status"`
	StartsAt           time.Time    `db:"starts_at" json:"starts_at"`
	EndsAt             time.Time    `db:"ends_at" json:"ends_at"`
	EnrollmentDeadline *time.Time   `db:"enrollment_deadline" json:"enrollment_deadline,omitempty"`
	Published          bool         `db:"published" json:"published"`
	SeatLimit          *int         `db:"seat_limit" json:"seat_limit,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// CourseFilter defines filters supported by course list endpoints.
type CourseFilter struct {
	Status    CourseStatus
	Published *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ReconciliationResult reports how many courses each bulk predicate advanced.
type ReconciliationResult struct {
	Started  int `json:"started"`
	Finished int `json:"finished"`
}
