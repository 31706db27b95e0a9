package events

import "time"

// Subject pattern constants for task lifecycle events
const (
	// SubjectTaskStatus announces task status changes
	SubjectTaskStatus = "task.status"

	// SubjectTaskClaimed announces a task being locked for mapping
	SubjectTaskClaimed = "task.claimed"

	// SubjectReviewStatus announces review verdicts
	SubjectReviewStatus = "review.status"

	// SubjectBundleCreated announces bundle creation
	SubjectBundleCreated = "bundle.created"

	// SubjectBundleDeleted announces bundle teardown
	SubjectBundleDeleted = "bundle.deleted"

	// SubjectAudit carries every audit action record
	SubjectAudit = "audit.action"
)

// TaskStatusMessage announces a task status change
type TaskStatusMessage struct {
	TaskID    int64     `json:"task_id"`
	UserID    int64     `json:"user_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskClaimedMessage announces a task being locked for mapping
type TaskClaimedMessage struct {
	TaskID    int64     `json:"task_id"`
	UserID    int64     `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ReviewStatusMessage announces a review verdict on a task
type ReviewStatusMessage struct {
	TaskID     int64     `json:"task_id"`
	ReviewerID int64     `json:"reviewer_id"`
	Status     string    `json:"status"`
	Meta       bool      `json:"meta,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// BundleMessage announces bundle creation or teardown
type BundleMessage struct {
	BundleID  int64     `json:"bundle_id"`
	OwnerID   int64     `json:"owner_id"`
	TaskIDs   []int64   `json:"task_ids,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditMessage mirrors an audit action row on the wire
type AuditMessage struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ItemType  string    `json:"item_type"`
	ItemID    int64     `json:"item_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
