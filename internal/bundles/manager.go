// Package bundles groups tasks into units that are locked, completed, and
// reviewed together. Bundle creation is all or nothing: either every member
// is locked for the owner or no lock survives the attempt.
package bundles

import (
	"fmt"
	"time"

	"github.com/mapforge/mapforge/internal/actions"
	"github.com/mapforge/mapforge/internal/events"
	"github.com/mapforge/mapforge/internal/locking"
	"github.com/mapforge/mapforge/internal/types"
)

// Store is the persistence surface the bundle manager needs
type Store interface {
	GetTasksByIDs(ids []int64) ([]*types.Task, error)
	CreateBundle(b *types.TaskBundle) error
	GetBundle(id int64) (*types.TaskBundle, error)
	AddBundleMembers(bundleID int64, taskIDs []int64) error
	RemoveBundleMembers(bundleID int64, taskIDs []int64, resetStatus bool) error
	DeleteBundle(id int64) error
	GetReview(taskID int64) (*types.TaskReview, error)
	CopyReviewState(fromTaskID int64, toTaskIDs []int64) error
}

// Publisher is the optional event sink for bundle announcements
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Manager coordinates bundle lifecycle with the lock manager
type Manager struct {
	store     Store
	locks     *locking.Manager
	audit     *actions.Logger
	publisher Publisher
}

// NewManager wires a bundle manager. publisher may be nil.
func NewManager(store Store, locks *locking.Manager, audit *actions.Logger, publisher Publisher) *Manager {
	return &Manager{store: store, locks: locks, audit: audit, publisher: publisher}
}

// Create builds a bundle named name from taskIDs, owned by user, with
// primaryTaskID as the bundle's representative task. Every member must
// exist, share one challenge, and be unbundled. The owner must be able to
// lock every member; if any lock fails, all locks taken during the attempt
// are rolled back and the failure lists the blocking tasks.
func (m *Manager) Create(user types.User, name string, taskIDs []int64, primaryTaskID int64) (*types.TaskBundle, error) {
	if user.Guest {
		return nil, types.ErrGuestNotAllowed
	}
	if len(taskIDs) == 0 {
		return nil, fmt.Errorf("bundle needs at least one task")
	}

	tasks, err := m.store.GetTasksByIDs(taskIDs)
	if err != nil {
		return nil, err
	}
	if len(tasks) != len(taskIDs) {
		return nil, types.ErrTaskNotFound
	}
	challengeID := tasks[0].ChallengeID
	primaryFound := false
	for _, t := range tasks {
		if t.ChallengeID != challengeID {
			return nil, types.ErrMixedChallenges
		}
		if t.BundleID != nil {
			return nil, types.ErrTaskAlreadyBundled
		}
		if t.ID == primaryTaskID {
			primaryFound = true
		}
	}
	if !primaryFound {
		return nil, fmt.Errorf("primary task %d is not a bundle member: %w", primaryTaskID, types.ErrTaskNotFound)
	}

	if err := m.lockAll(user, taskIDs); err != nil {
		return nil, err
	}

	b := &types.TaskBundle{
		Name:          name,
		OwnerID:       user.ID,
		TaskIDs:       taskIDs,
		PrimaryTaskID: &primaryTaskID,
	}
	if err := m.store.CreateBundle(b); err != nil {
		m.unlockAll(user, taskIDs)
		return nil, err
	}

	// Review state follows the primary so the whole bundle moves through
	// the review queue as one unit.
	if err := m.copyPrimaryReview(b, taskIDs); err != nil {
		return nil, err
	}

	m.audit.Record(user, types.ItemBundle, b.ID, actions.KindBundleCreated,
		fmt.Sprintf("%d tasks, primary %d", len(taskIDs), primaryTaskID))
	if m.publisher != nil {
		m.publisher.PublishJSON(events.SubjectBundleCreated, &events.BundleMessage{
			BundleID:  b.ID,
			OwnerID:   user.ID,
			TaskIDs:   taskIDs,
			Timestamp: time.Now(),
		})
	}
	return b, nil
}

// SetTasks reconciles the bundle's membership to exactly taskIDs. New
// members are locked for the owner and pick up the primary's review state
// before they join. Removed members are unlocked, have their review record
// cleared, and fall back to created so they re-enter the general pool;
// protect keeps their status, review, and locks intact for the case where
// the removal is one step of a larger atomic re-bundle.
func (m *Manager) SetTasks(user types.User, bundleID int64, taskIDs []int64, protect bool) (*types.TaskBundle, error) {
	b, err := m.ownedBundle(user, bundleID)
	if err != nil {
		return nil, err
	}

	want := make(map[int64]bool, len(taskIDs))
	for _, id := range taskIDs {
		want[id] = true
	}
	have := make(map[int64]bool, len(b.TaskIDs))
	var removed []int64
	for _, id := range b.TaskIDs {
		have[id] = true
		if !want[id] {
			removed = append(removed, id)
		}
	}
	var added []int64
	for _, id := range taskIDs {
		if !have[id] {
			added = append(added, id)
		}
	}

	if b.PrimaryTaskID != nil && !want[*b.PrimaryTaskID] {
		return nil, fmt.Errorf("cannot remove the primary task %d from bundle %d", *b.PrimaryTaskID, bundleID)
	}

	if len(added) > 0 {
		tasks, err := m.store.GetTasksByIDs(added)
		if err != nil {
			return nil, err
		}
		if len(tasks) != len(added) {
			return nil, types.ErrTaskNotFound
		}
		for _, t := range tasks {
			if t.BundleID != nil {
				return nil, types.ErrTaskAlreadyBundled
			}
		}
		if err := m.lockAll(user, added); err != nil {
			return nil, err
		}
		if err := m.store.AddBundleMembers(bundleID, added); err != nil {
			m.unlockAll(user, added)
			return nil, err
		}
		if err := m.copyPrimaryReview(b, added); err != nil {
			return nil, err
		}
	}
	if len(removed) > 0 {
		if err := m.store.RemoveBundleMembers(bundleID, removed, !protect); err != nil {
			return nil, err
		}
		if !protect {
			m.unlockAll(user, removed)
		}
	}
	return m.store.GetBundle(bundleID)
}

// copyPrimaryReview propagates the primary's review state, if any, onto the
// given members.
func (m *Manager) copyPrimaryReview(b *types.TaskBundle, taskIDs []int64) error {
	if b.PrimaryTaskID == nil {
		return nil
	}
	review, err := m.store.GetReview(*b.PrimaryTaskID)
	if err != nil || review == nil {
		return nil
	}
	others := make([]int64, 0, len(taskIDs))
	for _, id := range taskIDs {
		if id != *b.PrimaryTaskID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return nil
	}
	if err := m.store.CopyReviewState(*b.PrimaryTaskID, others); err != nil {
		return fmt.Errorf("copy review state to bundle members: %w", err)
	}
	return nil
}

// Delete tears the bundle down. Non-primary members are unbundled and
// unlocked; the primary keeps its lock since its lifecycle belongs to the
// ordinary status and review flow. With resetStatus the non-primary
// members also fall back to created so the selector can hand them out
// again.
func (m *Manager) Delete(user types.User, bundleID int64, resetStatus bool) error {
	b, err := m.ownedBundle(user, bundleID)
	if err != nil {
		return err
	}

	var members []int64
	for _, id := range b.TaskIDs {
		if b.PrimaryTaskID == nil || id != *b.PrimaryTaskID {
			members = append(members, id)
		}
	}
	if resetStatus && len(members) > 0 {
		if err := m.store.RemoveBundleMembers(bundleID, members, true); err != nil {
			return err
		}
	}
	if err := m.store.DeleteBundle(bundleID); err != nil {
		return err
	}
	m.unlockAll(user, members)

	m.audit.Record(user, types.ItemBundle, bundleID, actions.KindBundleDeleted, "")
	if m.publisher != nil {
		m.publisher.PublishJSON(events.SubjectBundleDeleted, &events.BundleMessage{
			BundleID:  bundleID,
			OwnerID:   user.ID,
			Timestamp: time.Now(),
		})
	}
	return nil
}

// Get returns a bundle by id
func (m *Manager) Get(bundleID int64) (*types.TaskBundle, error) {
	return m.store.GetBundle(bundleID)
}

func (m *Manager) ownedBundle(user types.User, bundleID int64) (*types.TaskBundle, error) {
	if user.Guest {
		return nil, types.ErrGuestNotAllowed
	}
	b, err := m.store.GetBundle(bundleID)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != user.ID {
		return nil, types.ErrNotBundleOwner
	}
	return b, nil
}

// lockAll acquires a lock on every task for user, rolling back on the
// first failure. The returned error lists every task that could not be
// locked, which means probing the remainder even after a failure.
func (m *Manager) lockAll(user types.User, taskIDs []int64) error {
	var acquired, failed []int64
	for _, id := range taskIDs {
		if err := m.locks.Acquire(types.ItemTask, id, user); err != nil {
			failed = append(failed, id)
			continue
		}
		acquired = append(acquired, id)
	}
	if len(failed) > 0 {
		m.unlockAll(user, acquired)
		return &types.PartialLockFailureError{TaskIDs: failed}
	}
	return nil
}

func (m *Manager) unlockAll(user types.User, taskIDs []int64) {
	for _, id := range taskIDs {
		m.locks.ReleaseQuietly(types.ItemTask, id, user)
	}
}
