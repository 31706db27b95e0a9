package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mapforge/mapforge/internal/types"
)

// CreateBundle persists a bundle and its membership in one transaction:
// bundle row, join rows, and the back-pointing bundle_id / primary flag on
// every member task. Fills in the bundle's ID and CreatedAt.
func (s *SQLiteStore) CreateBundle(b *types.TaskBundle) error {
	now := time.Now().UTC()
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO bundles (name, owner_id, primary_task_id, created_at)
			VALUES (?, ?, ?, ?)`,
			b.Name, b.OwnerID, nullInt64(b.PrimaryTaskID), now,
		)
		if err != nil {
			return fmt.Errorf("failed to create bundle: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get bundle ID: %w", err)
		}
		b.ID = id

		for _, taskID := range b.TaskIDs {
			if err := addMemberTx(tx, id, taskID, b.PrimaryTaskID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.CreatedAt = now
	return nil
}

func addMemberTx(tx *sql.Tx, bundleID, taskID int64, primaryID *int64) error {
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO bundle_tasks (bundle_id, task_id) VALUES (?, ?)`,
		bundleID, taskID,
	); err != nil {
		return fmt.Errorf("failed to add bundle member %d: %w", taskID, err)
	}

	primary := primaryID != nil && *primaryID == taskID
	res, err := tx.Exec(`
		UPDATE tasks SET bundle_id = ?, is_bundle_primary = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		bundleID, boolToInt(primary), taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark task %d as bundled: %w", taskID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return types.ErrTaskNotFound
	}
	return nil
}

// GetBundle retrieves a bundle with its member task IDs
func (s *SQLiteStore) GetBundle(id int64) (*types.TaskBundle, error) {
	var b types.TaskBundle
	var primary sql.NullInt64

	err := s.db.QueryRow(`
		SELECT id, name, owner_id, primary_task_id, created_at
		FROM bundles WHERE id = ?`,
		id,
	).Scan(&b.ID, &b.Name, &b.OwnerID, &primary, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle: %w", err)
	}
	b.PrimaryTaskID = nullI64Ptr(primary)

	rows, err := s.db.Query(`
		SELECT task_id FROM bundle_tasks WHERE bundle_id = ? ORDER BY task_id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query bundle members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID int64
		if err := rows.Scan(&taskID); err != nil {
			return nil, fmt.Errorf("failed to scan bundle member: %w", err)
		}
		b.TaskIDs = append(b.TaskIDs, taskID)
	}
	return &b, rows.Err()
}

// AddBundleMembers attaches tasks to an existing bundle in one transaction
func (s *SQLiteStore) AddBundleMembers(bundleID int64, taskIDs []int64) error {
	bundle, err := s.GetBundle(bundleID)
	if err != nil {
		return err
	}
	return s.withTx(func(tx *sql.Tx) error {
		for _, taskID := range taskIDs {
			if err := addMemberTx(tx, bundleID, taskID, bundle.PrimaryTaskID); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveBundleMembers detaches tasks from a bundle. When resetStatus is set,
// removed members are recycled: review record cleared and status reset to
// Created so they re-enter the selection pool.
func (s *SQLiteStore) RemoveBundleMembers(bundleID int64, taskIDs []int64, resetStatus bool) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, taskID := range taskIDs {
			if _, err := tx.Exec(`
				DELETE FROM bundle_tasks WHERE bundle_id = ? AND task_id = ?`,
				bundleID, taskID,
			); err != nil {
				return fmt.Errorf("failed to remove bundle member %d: %w", taskID, err)
			}

			if _, err := tx.Exec(`
				UPDATE tasks SET bundle_id = NULL, is_bundle_primary = 0,
					updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND bundle_id = ?`,
				taskID, bundleID,
			); err != nil {
				return fmt.Errorf("failed to unbundle task %d: %w", taskID, err)
			}

			if resetStatus {
				if _, err := tx.Exec(`
					UPDATE tasks SET status = ?, mapped_on = NULL,
						updated_at = CURRENT_TIMESTAMP
					WHERE id = ?`,
					types.StatusCreated, taskID,
				); err != nil {
					return fmt.Errorf("failed to reset task %d: %w", taskID, err)
				}
				if _, err := tx.Exec(`
					DELETE FROM task_reviews WHERE task_id = ?`,
					taskID,
				); err != nil {
					return fmt.Errorf("failed to clear review for task %d: %w", taskID, err)
				}
			}

			if _, err := tx.Exec(`
				UPDATE bundles SET primary_task_id = NULL
				WHERE id = ? AND primary_task_id = ?`,
				bundleID, taskID,
			); err != nil {
				return fmt.Errorf("failed to clear bundle primary: %w", err)
			}
		}
		return nil
	})
}

// DeleteBundle tears a bundle down: clears the back-pointers and primary
// flags on all members, removes the join rows, and deletes the bundle row,
// all in one transaction so membership is never left dangling.
func (s *SQLiteStore) DeleteBundle(id int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			UPDATE tasks SET bundle_id = NULL, is_bundle_primary = 0,
				updated_at = CURRENT_TIMESTAMP
			WHERE bundle_id = ?`,
			id,
		); err != nil {
			return fmt.Errorf("failed to unbundle tasks: %w", err)
		}

		if _, err := tx.Exec(`
			DELETE FROM bundle_tasks WHERE bundle_id = ?`, id,
		); err != nil {
			return fmt.Errorf("failed to delete bundle members: %w", err)
		}

		res, err := tx.Exec(`DELETE FROM bundles WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete bundle: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check affected rows: %w", err)
		}
		if rows == 0 {
			return types.ErrBundleNotFound
		}
		return nil
	})
}
