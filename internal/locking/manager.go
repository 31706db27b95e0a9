// Package locking provides advisory time-bound locks over shared items.
// Locks are stored in the database and granted through guarded single-
// statement writes, so mutual exclusion holds across processes without any
// in-memory coordination.
package locking

import (
	"errors"
	"log"
	"time"

	"github.com/mapforge/mapforge/internal/types"
)

// Store is the persistence capability the manager needs
type Store interface {
	AcquireLock(itemType types.ItemType, itemID, userID int64, ttl time.Duration) error
	ReleaseLock(itemType types.ItemType, itemID, userID int64) error
	ReleaseAllLocks(userID int64, itemType types.ItemType) (int, error)
	GetLock(itemType types.ItemType, itemID int64) (*types.Lock, error)
	SweepStaleLocks(ttl time.Duration) (int, error)
}

// Manager grants, releases, and inspects locks with a configured TTL. A lock
// older than the TTL is stale and silently reclaimed by the next requester.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager creates a lock manager with the given staleness TTL
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// TTL returns the configured lock expiry
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire claims an item for a user. Succeeds when the item is unlocked,
// already held by the same user (refreshing the timestamp), or held by a
// stale lock. Returns ErrLockHeldByOther otherwise.
func (m *Manager) Acquire(itemType types.ItemType, itemID int64, user types.User) error {
	if user.Guest {
		return types.ErrGuestNotAllowed
	}
	return m.store.AcquireLock(itemType, itemID, user.ID, m.ttl)
}

// Release gives up a lock the user holds. Releasing an unlocked item is a
// no-op; ErrNotLockHolder propagates so callers on interactive paths can
// report it, while cleanup paths should use ReleaseQuietly.
func (m *Manager) Release(itemType types.ItemType, itemID int64, user types.User) error {
	return m.store.ReleaseLock(itemType, itemID, user.ID)
}

// ReleaseQuietly releases best-effort: contention during teardown is logged,
// never propagated, so a stuck lock cannot fail an unrelated operation.
func (m *Manager) ReleaseQuietly(itemType types.ItemType, itemID int64, user types.User) {
	if err := m.store.ReleaseLock(itemType, itemID, user.ID); err != nil {
		if errors.Is(err, types.ErrNotLockHolder) {
			log.Printf("[LOCK] user %d tried to release %s %d held by someone else", user.ID, itemType, itemID)
			return
		}
		log.Printf("[LOCK] failed to release %s %d for user %d: %v", itemType, itemID, user.ID, err)
	}
}

// ReleaseAll drops every lock the user holds for an item type; used before
// issuing a fresh random task so a mapper holds at most one edit lock.
func (m *Manager) ReleaseAll(user types.User, itemType types.ItemType) int {
	released, err := m.store.ReleaseAllLocks(user.ID, itemType)
	if err != nil {
		log.Printf("[LOCK] failed to release all %s locks for user %d: %v", itemType, user.ID, err)
		return 0
	}
	return released
}

// Holder reports who currently holds a non-stale lock on the item, if anyone
func (m *Manager) Holder(itemType types.ItemType, itemID int64) (int64, bool, error) {
	lock, err := m.store.GetLock(itemType, itemID)
	if err != nil {
		return 0, false, err
	}
	if lock == nil || lock.Stale(m.ttl, time.Now().UTC()) {
		return 0, false, nil
	}
	return lock.LockedBy, true, nil
}

// SweepStale bulk-deletes expired locks; a background hygiene job
func (m *Manager) SweepStale() (int, error) {
	return m.store.SweepStaleLocks(m.ttl)
}
