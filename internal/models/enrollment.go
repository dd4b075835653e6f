package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment request.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusAccepted  EnrollmentStatus = "ACCEPTED"
	EnrollmentStatusRejected  EnrollmentStatus = "REJECTED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// Enrollment captures a learner's request for a seat in a course.
type Enrollment struct {
	ID        int64            `db:"id" json:"id"`
	CourseID  int64            `db:"course_id" json:"course_id"`
	LearnerID int64            `db:"learner_id" json:"learner_id"`
	Status    EnrollmentStatus `db:"status" json:"status"`
	Reason    *string          `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with course and learner info.
type EnrollmentDetail struct {
	Enrollment
	CourseTitle string `db:"course_title" json:"course_title"`
	LearnerName string `db:"learner_name" json:"learner_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	CourseID  int64
	LearnerID int64
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
