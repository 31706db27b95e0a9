package types

import "time"

// ReviewStatus is the review (and meta-review) state of a task
type ReviewStatus int

// Review status values. Numeric values are part of the stored representation.
const (
	ReviewRequested   ReviewStatus = 0
	ReviewApproved    ReviewStatus = 1
	ReviewRejected    ReviewStatus = 2
	ReviewAssisted    ReviewStatus = 3
	ReviewDisputed    ReviewStatus = 4
	ReviewUnnecessary ReviewStatus = 5
)

// String returns a human readable review status name
func (s ReviewStatus) String() string {
	switch s {
	case ReviewRequested:
		return "requested"
	case ReviewApproved:
		return "approved"
	case ReviewRejected:
		return "rejected"
	case ReviewAssisted:
		return "assisted"
	case ReviewDisputed:
		return "disputed"
	case ReviewUnnecessary:
		return "unnecessary"
	default:
		return "unknown"
	}
}

// Known reports whether s is one of the defined review status values
func (s ReviewStatus) Known() bool {
	return s >= ReviewRequested && s <= ReviewUnnecessary
}

// TaskReview is the per-task review sub-record.
//
// Invariants: ReviewedAt is nil while the status is Requested, and StartedAt
// is set only while a reviewer holds the review claim.
type TaskReview struct {
	TaskID              int64
	ReviewStatus        *ReviewStatus
	RequestedBy         *int64
	RequestedAt         *time.Time
	ReviewedBy          *int64
	ReviewedAt          *time.Time
	ClaimedBy           *int64
	ClaimedAt           *time.Time
	StartedAt           *time.Time
	MetaReviewStatus    *ReviewStatus
	MetaReviewedBy      *int64
	MetaReviewedAt      *time.Time
	AdditionalReviewers []int64
}

// Requested reports whether the task is currently waiting for review
func (r *TaskReview) Requested() bool {
	return r != nil && r.ReviewStatus != nil && *r.ReviewStatus == ReviewRequested
}

// ClaimedByOther reports whether a different reviewer currently holds the
// review claim.
func (r *TaskReview) ClaimedByOther(userID int64) bool {
	return r != nil && r.ClaimedBy != nil && *r.ClaimedBy != userID
}

// ReviewHistoryEntry records one review transition for audit
type ReviewHistoryEntry struct {
	ID          int64
	TaskID      int64
	RequestedBy *int64
	ReviewedBy  *int64
	OldStatus   *ReviewStatus
	NewStatus   ReviewStatus
	Meta        bool
	Comment     string
	ErrorTags   string
	ReviewedAt  time.Time
}

// TaskBundle groups tasks into one unit for locking, status, and review.
//
// Invariant: every member task's BundleID points back at the bundle, and at
// most one member is flagged primary.
type TaskBundle struct {
	ID            int64
	Name          string
	OwnerID       int64
	TaskIDs       []int64
	PrimaryTaskID *int64
	CreatedAt     time.Time
}
