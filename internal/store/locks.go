package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mapforge/mapforge/internal/types"
)

// AcquireLock claims an item for a user. The whole check-and-write runs as a
// single guarded upsert: the conflict update only matches when the existing
// lock belongs to the same user or is older than ttl, so two racing acquires
// on the same item resolve to exactly one winner. Zero rows affected means a
// non-stale lock is held by someone else.
func (s *SQLiteStore) AcquireLock(itemType types.ItemType, itemID, userID int64, ttl time.Duration) error {
	now := time.Now().UTC()
	cutoff := now.Add(-ttl)

	res, err := s.db.Exec(`
		INSERT INTO locks (item_type, item_id, locked_by, locked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_type, item_id) DO UPDATE SET
			locked_by = excluded.locked_by,
			locked_at = excluded.locked_at
		WHERE locks.locked_by = excluded.locked_by
		   OR locks.locked_at <= ?`,
		itemType, itemID, userID, now, cutoff,
	)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s %d: %w", itemType, itemID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return types.ErrLockHeldByOther
	}
	return nil
}

// ReleaseLock deletes the lock if the user holds it. Releasing an item that
// is not locked at all is a no-op; releasing someone else's lock returns
// ErrNotLockHolder so the caller can decide whether that matters.
func (s *SQLiteStore) ReleaseLock(itemType types.ItemType, itemID, userID int64) error {
	res, err := s.db.Exec(`
		DELETE FROM locks
		WHERE item_type = ? AND item_id = ? AND locked_by = ?`,
		itemType, itemID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to release lock on %s %d: %w", itemType, itemID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		lock, err := s.GetLock(itemType, itemID)
		if err != nil {
			return err
		}
		if lock != nil {
			return types.ErrNotLockHolder
		}
	}
	return nil
}

// ReleaseAllLocks drops every lock a user holds for an item type and returns
// how many were released.
func (s *SQLiteStore) ReleaseAllLocks(userID int64, itemType types.ItemType) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM locks WHERE locked_by = ? AND item_type = ?`,
		userID, itemType,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release locks for user %d: %w", userID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return int(rows), nil
}

// GetLock returns the current lock on an item, or nil when unlocked
func (s *SQLiteStore) GetLock(itemType types.ItemType, itemID int64) (*types.Lock, error) {
	var l types.Lock
	err := s.db.QueryRow(`
		SELECT item_type, item_id, locked_by, locked_at
		FROM locks
		WHERE item_type = ? AND item_id = ?`,
		itemType, itemID,
	).Scan(&l.ItemType, &l.ItemID, &l.LockedBy, &l.LockedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	return &l, nil
}

// SweepStaleLocks bulk-deletes locks older than ttl and returns the count
func (s *SQLiteStore) SweepStaleLocks(ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := s.db.Exec(`DELETE FROM locks WHERE locked_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale locks: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return int(rows), nil
}
