package models

import "time"

// NotificationKind classifies notifications pushed to users.
type NotificationKind string

const (
	NotificationKindEnrollmentApproved NotificationKind = "ENROLLMENT_APPROVED"
	NotificationKindEnrollmentRejected NotificationKind = "ENROLLMENT_REJECTED"
)

// Notification is a fire-and-forget message delivered to a user's feed.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    int64            `db:"user_id" json:"user_id"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	Message   string           `db:"message" json:"message"`
	Link      string           `db:"link" json:"link,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
