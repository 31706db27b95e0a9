package types

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the coordination core. Callers match these with
// errors.Is; the web layer translates them into user-facing responses.
var (
	// ErrLockHeldByOther: a non-stale lock is held by a different user
	ErrLockHeldByOther = errors.New("item is locked by another user")

	// ErrNotLockHolder: a release was attempted by a non-holder. Cleanup
	// paths treat this as a soft failure and only log it.
	ErrNotLockHolder = errors.New("lock is held by a different user")

	// ErrGuestNotAllowed: guests may view but never mutate state
	ErrGuestNotAllowed = errors.New("guest users cannot modify tasks")

	// ErrNoTasksFound: every priority tier was exhausted. Not a transient
	// race; callers should not retry indefinitely.
	ErrNoTasksFound = errors.New("no tasks matched the search criteria")

	// ErrSelfReviewNotAllowed: mappers cannot review their own work
	ErrSelfReviewNotAllowed = errors.New("reviewing your own work is not allowed")

	// ErrReviewClaimedByOther: the review claim is held by another reviewer
	ErrReviewClaimedByOther = errors.New("review is claimed by another reviewer")

	ErrTaskNotFound      = errors.New("task not found")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrBundleNotFound    = errors.New("bundle not found")

	// ErrNotBundleOwner: bundles may only be modified by their creator
	ErrNotBundleOwner = errors.New("bundle is owned by a different user")

	// ErrTaskAlreadyBundled: a task can belong to at most one bundle
	ErrTaskAlreadyBundled = errors.New("task already belongs to a bundle")

	// ErrMixedChallenges: bundle members must share one challenge
	ErrMixedChallenges = errors.New("bundle tasks must belong to the same challenge")
)

// InvalidStatusTransitionError reports a rejected status change, carrying
// both endpoints for diagnostics.
type InvalidStatusTransitionError struct {
	From TaskStatus
	To   TaskStatus
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// PartialLockFailureError reports a bundle operation that could not lock
// every member. TaskIDs lists exactly the tasks that blocked the operation;
// any locks acquired during the attempt have been rolled back.
type PartialLockFailureError struct {
	TaskIDs []int64
}

func (e *PartialLockFailureError) Error() string {
	return fmt.Sprintf("failed to lock tasks %v", e.TaskIDs)
}
