package store

import (
	"database/sql"
	"fmt"

	"github.com/mapforge/mapforge/internal/types"
)

// UserScore aggregates a user's mapping and review activity
type UserScore struct {
	UserID        int64
	Score         int
	Fixed         int
	FalsePositive int
	AlreadyFixed  int
	TooHard       int
	Skipped       int
	Approved      int
	Rejected      int
	Assisted      int
	Disputed      int
	ReviewsDone   int
}

var statusCounterColumns = map[types.TaskStatus]string{
	types.StatusFixed:         "fixed",
	types.StatusFalsePositive: "false_positive",
	types.StatusAlreadyFixed:  "already_fixed",
	types.StatusTooHard:       "too_hard",
	types.StatusSkipped:       "skipped",
}

var reviewCounterColumns = map[types.ReviewStatus]string{
	types.ReviewApproved: "approved",
	types.ReviewRejected: "rejected",
	types.ReviewAssisted: "assisted",
	types.ReviewDisputed: "disputed",
}

// CreditStatus awards points for completing a task with the given status.
// A ledger row keyed (task, status) makes the credit idempotent: retries and
// replays of the same status write never double-credit. Returns true when a
// fresh credit was recorded.
func (s *SQLiteStore) CreditStatus(taskID, userID int64, status types.TaskStatus, points int) (bool, error) {
	column, scored := statusCounterColumns[status]

	var credited bool
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO score_credits (task_id, status, user_id, points)
			VALUES (?, ?, ?, ?)`,
			taskID, status, userID, points,
		)
		if err != nil {
			return fmt.Errorf("failed to record credit: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check affected rows: %w", err)
		}
		if rows == 0 {
			return nil // already credited for this (task, status)
		}
		credited = true

		if !scored {
			return nil
		}
		if _, err := tx.Exec(`
			INSERT INTO user_scores (user_id, score, `+column+`)
			VALUES (?, ?, 1)
			ON CONFLICT(user_id) DO UPDATE SET
				score = score + excluded.score,
				`+column+` = `+column+` + 1`,
			userID, points,
		); err != nil {
			return fmt.Errorf("failed to update user score: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return credited, nil
}

// RollbackStatusCredit reverses a previously-recorded status credit, used
// when a review overturns the outcome it was awarded for. No-op when the
// credit was never recorded.
func (s *SQLiteStore) RollbackStatusCredit(taskID, userID int64, status types.TaskStatus) error {
	column, scored := statusCounterColumns[status]

	return s.withTx(func(tx *sql.Tx) error {
		var points int
		err := tx.QueryRow(`
			SELECT points FROM score_credits
			WHERE task_id = ? AND status = ? AND user_id = ?`,
			taskID, status, userID,
		).Scan(&points)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read credit: %w", err)
		}

		if _, err := tx.Exec(`
			DELETE FROM score_credits
			WHERE task_id = ? AND status = ? AND user_id = ?`,
			taskID, status, userID,
		); err != nil {
			return fmt.Errorf("failed to delete credit: %w", err)
		}

		if !scored {
			return nil
		}
		if _, err := tx.Exec(`
			UPDATE user_scores
			SET score = score - ?, `+column+` = `+column+` - 1
			WHERE user_id = ?`,
			points, userID,
		); err != nil {
			return fmt.Errorf("failed to roll back user score: %w", err)
		}
		return nil
	})
}

// CreditReview bumps review-outcome counters. Reviewers additionally get a
// reviews_done count; mappers get the outcome recorded against them.
func (s *SQLiteStore) CreditReview(userID int64, outcome types.ReviewStatus, asReviewer bool) error {
	column, ok := reviewCounterColumns[outcome]
	if !ok {
		return nil
	}

	reviewsDone := 0
	if asReviewer {
		reviewsDone = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO user_scores (user_id, `+column+`, reviews_done)
		VALUES (?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			`+column+` = `+column+` + 1,
			reviews_done = reviews_done + excluded.reviews_done`,
		userID, reviewsDone,
	)
	if err != nil {
		return fmt.Errorf("failed to credit review: %w", err)
	}
	return nil
}

// RollbackReviewCredit decrements a review-outcome counter, used when a
// dispute overturns a prior verdict.
func (s *SQLiteStore) RollbackReviewCredit(userID int64, outcome types.ReviewStatus) error {
	column, ok := reviewCounterColumns[outcome]
	if !ok {
		return nil
	}

	_, err := s.db.Exec(`
		UPDATE user_scores SET `+column+` = `+column+` - 1
		WHERE user_id = ? AND `+column+` > 0`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to roll back review credit: %w", err)
	}
	return nil
}

// GetUserScore returns a user's score row; a zero-valued row when absent
func (s *SQLiteStore) GetUserScore(userID int64) (*UserScore, error) {
	sc := &UserScore{UserID: userID}
	err := s.db.QueryRow(`
		SELECT score, fixed, false_positive, already_fixed, too_hard, skipped,
		       approved, rejected, assisted, disputed, reviews_done
		FROM user_scores WHERE user_id = ?`,
		userID,
	).Scan(
		&sc.Score, &sc.Fixed, &sc.FalsePositive, &sc.AlreadyFixed,
		&sc.TooHard, &sc.Skipped, &sc.Approved, &sc.Rejected,
		&sc.Assisted, &sc.Disputed, &sc.ReviewsDone,
	)
	if err == sql.ErrNoRows {
		return sc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user score: %w", err)
	}
	return sc, nil
}
