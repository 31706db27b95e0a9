// Package status owns the task status state machine. Every write goes
// through the transition table here and the guarded update in the store, so
// a status can never change underneath another user's lock.
package status

import (
	"fmt"
	"log"
	"time"

	"github.com/mapforge/mapforge/internal/actions"
	"github.com/mapforge/mapforge/internal/events"
	"github.com/mapforge/mapforge/internal/locking"
	"github.com/mapforge/mapforge/internal/scoring"
	"github.com/mapforge/mapforge/internal/types"
)

// Store is the persistence surface the status service needs
type Store interface {
	GetTask(id int64) (*types.Task, error)
	SetTaskStatus(taskID int64, status types.TaskStatus, userID int64, mappedOn *time.Time, responses map[string]string) error
	RequestReview(taskID, userID int64, now time.Time) error
	ClearReview(taskID int64) error
	GetBundle(id int64) (*types.TaskBundle, error)
}

// Publisher is the optional event sink for status announcements
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Service coordinates status writes with locking, scoring, audit, and
// review requests
type Service struct {
	store     Store
	locks     *locking.Manager
	scores    *scoring.Keeper
	audit     *actions.Logger
	publisher Publisher

	resetInterval time.Duration
	now           func() time.Time
}

// NewService wires a status service. publisher may be nil when events are
// disabled.
func NewService(store Store, locks *locking.Manager, scores *scoring.Keeper, audit *actions.Logger, publisher Publisher, resetInterval time.Duration) *Service {
	return &Service{
		store:         store,
		locks:         locks,
		scores:        scores,
		audit:         audit,
		publisher:     publisher,
		resetInterval: resetInterval,
		now:           time.Now,
	}
}

// Options modifies a status write
type Options struct {
	// Responses carries completion form answers stored with the status
	Responses map[string]string

	// RequestReview flags the task for the review queue after the write
	RequestReview bool
}

// allowed reports whether a direct status change from one status to
// another is permitted. Completed statuses only change through Revise.
func allowed(from, to types.TaskStatus) bool {
	if !to.Known() {
		return false
	}
	if from == to {
		return true
	}
	if to == types.StatusDeleted || to == types.StatusDisabled {
		return true
	}
	switch {
	case from.Claimable():
		return true
	case from == types.StatusDeleted, from == types.StatusDisabled:
		return to == types.StatusCreated
	default:
		// completed statuses are locked in
		return false
	}
}

// SetStatus applies a status change on behalf of user. The change is
// validated against the transition table, written with the lock guard, and
// followed by scoring, audit, and lock release. A completed task whose
// mapped_on is older than the reset interval is treated as freshly created
// for validation, which lets the recycling sweep hand it out again.
func (s *Service) SetStatus(taskID int64, to types.TaskStatus, user types.User, opts Options) error {
	if user.Guest {
		return types.ErrGuestNotAllowed
	}
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return err
	}

	now := s.now()
	from := task.Status
	if from.Completed() && task.Stale(s.resetInterval, now) {
		from = types.StatusCreated
	}
	if !allowed(from, to) {
		return &types.InvalidStatusTransitionError{From: task.Status, To: to}
	}
	// Re-applying an unchanged status to a task older than the reset
	// interval recycles it back into the pool instead of refreshing the
	// stale status in place.
	if to == task.Status && task.Stale(s.resetInterval, now) {
		to = types.StatusCreated
	}

	var mappedOn *time.Time
	if to != types.StatusCreated {
		mappedOn = &now
	}
	if err := s.store.SetTaskStatus(taskID, to, user.ID, mappedOn, opts.Responses); err != nil {
		return err
	}
	if to == types.StatusCreated && task.Review != nil {
		if err := s.store.ClearReview(taskID); err != nil {
			return fmt.Errorf("clear review for task %d: %w", taskID, err)
		}
	}
	s.propagateToBundle(task, to, user, mappedOn)

	s.afterWrite(task, to, user, now, true)

	if opts.RequestReview && to.Completed() {
		if err := s.store.RequestReview(taskID, user.ID, now); err != nil {
			return fmt.Errorf("request review for task %d: %w", taskID, err)
		}
	}
	return nil
}

// Revise resets a task out of a completed status after a review rejection.
// Unlike SetStatus it does not consult the transition table, since the
// whole point is to reopen a locked-in status. The lock guard still
// applies, so a task someone is actively editing cannot be reopened
// underneath them.
func (s *Service) Revise(taskID int64, to types.TaskStatus, actor types.User) error {
	if actor.Guest {
		return types.ErrGuestNotAllowed
	}
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if !to.Known() || to.Completed() {
		return &types.InvalidStatusTransitionError{From: task.Status, To: to}
	}
	var mappedOn *time.Time
	if to != types.StatusCreated {
		now := s.now()
		mappedOn = &now
	}
	if err := s.store.SetTaskStatus(taskID, to, actor.ID, mappedOn, nil); err != nil {
		return err
	}
	if task.Status.Completed() && task.Review != nil && task.Review.RequestedBy != nil && s.scores != nil {
		if err := s.scores.RollbackStatus(taskID, *task.Review.RequestedBy, task.Status); err != nil {
			log.Printf("[STATUS] rollback credit for task %d: %v", taskID, err)
		}
	}
	s.propagateToBundle(task, to, actor, mappedOn)
	s.afterWrite(task, to, actor, s.now(), false)
	return nil
}

// propagateToBundle applies a status written on a bundle primary to the
// other members, so the bundle moves through the pool as one unit. Member
// writes are best effort; a member locked by a third party keeps its
// status and the failure is logged.
func (s *Service) propagateToBundle(task *types.Task, to types.TaskStatus, user types.User, mappedOn *time.Time) {
	if !task.IsBundlePrimary || task.BundleID == nil {
		return
	}
	bundle, err := s.store.GetBundle(*task.BundleID)
	if err != nil {
		log.Printf("[STATUS] load bundle %d: %v", *task.BundleID, err)
		return
	}
	for _, id := range bundle.TaskIDs {
		if id == task.ID {
			continue
		}
		if err := s.store.SetTaskStatus(id, to, user.ID, mappedOn, nil); err != nil {
			log.Printf("[STATUS] propagate %s to bundle member %d: %v", to, id, err)
			continue
		}
		if to == types.StatusCreated {
			if err := s.store.ClearReview(id); err != nil {
				log.Printf("[STATUS] clear review for bundle member %d: %v", id, err)
			}
		}
		s.locks.ReleaseQuietly(types.ItemTask, id, user)
	}
}

// afterWrite runs the best-effort followers of a successful status write:
// scoring credit, audit record, event publish, lock release. Revisions pass
// credit=false so the reviewer is not scored for the mapper's work.
func (s *Service) afterWrite(task *types.Task, to types.TaskStatus, user types.User, now time.Time, credit bool) {
	if credit && creditable(to) && s.scores != nil {
		if _, err := s.scores.CreditStatus(task.ID, user, to); err != nil {
			s.audit.Record(user, types.ItemTask, task.ID, actions.KindStatusSet,
				fmt.Sprintf("credit failed: %v", err))
		}
	}
	s.audit.Record(user, types.ItemTask, task.ID, actions.KindStatusSet,
		fmt.Sprintf("%s -> %s", task.Status, to))
	if s.publisher != nil {
		s.publisher.PublishJSON(events.SubjectTaskStatus, &events.TaskStatusMessage{
			TaskID:    task.ID,
			UserID:    user.ID,
			OldStatus: task.Status.String(),
			NewStatus: to.String(),
			Timestamp: now,
		})
	}
	s.locks.ReleaseQuietly(types.ItemTask, task.ID, user)
}

// creditable reports whether a status earns a score credit
func creditable(to types.TaskStatus) bool {
	switch to {
	case types.StatusFixed, types.StatusFalsePositive, types.StatusAlreadyFixed,
		types.StatusTooHard, types.StatusSkipped:
		return true
	}
	return false
}
