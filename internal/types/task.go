package types

import "time"

// TaskStatus is the mapping status of a task
type TaskStatus int

// Task status values. The numeric values are part of the stored
// representation and must not be reordered.
const (
	StatusCreated       TaskStatus = 0
	StatusFixed         TaskStatus = 1
	StatusFalsePositive TaskStatus = 2
	StatusSkipped       TaskStatus = 3
	StatusDeleted       TaskStatus = 4
	StatusAlreadyFixed  TaskStatus = 5
	StatusTooHard       TaskStatus = 6
	StatusDisabled      TaskStatus = 9
)

// String returns a human readable status name
func (s TaskStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusFixed:
		return "fixed"
	case StatusFalsePositive:
		return "false_positive"
	case StatusSkipped:
		return "skipped"
	case StatusDeleted:
		return "deleted"
	case StatusAlreadyFixed:
		return "already_fixed"
	case StatusTooHard:
		return "too_hard"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Known reports whether s is one of the defined status values
func (s TaskStatus) Known() bool {
	switch s {
	case StatusCreated, StatusFixed, StatusFalsePositive, StatusSkipped,
		StatusDeleted, StatusAlreadyFixed, StatusTooHard, StatusDisabled:
		return true
	}
	return false
}

// Completed reports whether s is a completed ("locked") status. A task in a
// completed status cannot be re-claimed for mapping until it is explicitly
// reset through the review revision flow.
func (s TaskStatus) Completed() bool {
	return s == StatusFixed || s == StatusFalsePositive || s == StatusAlreadyFixed
}

// Claimable reports whether a task with this status is still eligible to be
// handed out by the random selector.
func (s TaskStatus) Claimable() bool {
	return s == StatusCreated || s == StatusSkipped || s == StatusTooHard
}

// ClaimableStatuses are the statuses the random selector draws from
var ClaimableStatuses = []TaskStatus{StatusCreated, StatusSkipped, StatusTooHard}

// Priority is the selection tier of a task
type Priority int

// Priority tiers, in selection order. Lower value = selected first.
const (
	PriorityHigh   Priority = 0
	PriorityMedium Priority = 1
	PriorityLow    Priority = 2
)

// Priorities lists all tiers in fallback order
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// String returns a human readable priority name
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Task is the atomic unit of mapping work tied to a geographic feature set.
// Owned by its parent challenge.
type Task struct {
	ID              int64
	ChallengeID     int64
	Name            string
	Instruction     string
	Geometry        *FeatureCollection
	Location        *Point // centroid of the geometry, derived on write
	Status          TaskStatus
	Priority        Priority
	MappedOn        *time.Time
	Responses       map[string]string // completion responses keyed by prompt
	BundleID        *int64
	IsBundlePrimary bool
	Review          *TaskReview // nil when review was never requested
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Stale reports whether the task was mapped longer ago than the configured
// reset interval and is therefore eligible for recycling back to Created.
func (t *Task) Stale(resetInterval time.Duration, now time.Time) bool {
	if t.MappedOn == nil || resetInterval <= 0 {
		return false
	}
	return now.Sub(*t.MappedOn) > resetInterval
}

// User identifies the actor performing an operation. Guest users may view
// tasks but never mutate status, review, or bundle state.
type User struct {
	ID    int64
	Name  string
	Guest bool
}

// Challenge is a named collection of tasks sharing instructions and
// priority rules.
type Challenge struct {
	ID                 int64
	ProjectID          int64
	Name               string
	Enabled            bool
	Tags               []string
	DefaultPriority    Priority
	HighPriorityRule   string // JSON rule tree, empty = no rule
	MediumPriorityRule string
	LowPriorityRule    string
	CreatedAt          time.Time
}

// Project groups challenges; disabled projects hide their tasks from
// selection.
type Project struct {
	ID        int64
	Name      string
	Enabled   bool
	CreatedAt time.Time
}
