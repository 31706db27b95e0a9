// Package scoring credits users for mapping and review work. Status credits
// are idempotent per (task, status) so that retried writes never double-
// count.
package scoring

import (
	"github.com/mapforge/mapforge/internal/store"
	"github.com/mapforge/mapforge/internal/types"
)

// Store is the persistence capability the keeper needs
type Store interface {
	CreditStatus(taskID, userID int64, status types.TaskStatus, points int) (bool, error)
	RollbackStatusCredit(taskID, userID int64, status types.TaskStatus) error
	CreditReview(userID int64, outcome types.ReviewStatus, asReviewer bool) error
	RollbackReviewCredit(userID int64, outcome types.ReviewStatus) error
	GetUserScore(userID int64) (*store.UserScore, error)
}

// Keeper applies the configured points table to score events
type Keeper struct {
	store  Store
	points types.ScoringConfig
}

// NewKeeper creates a score keeper with the given points table
func NewKeeper(store Store, points types.ScoringConfig) *Keeper {
	return &Keeper{store: store, points: points}
}

// CreditStatus awards the configured points for completing a task with the
// given status. Guests are never credited. Returns true when a fresh credit
// was recorded.
func (k *Keeper) CreditStatus(taskID int64, user types.User, status types.TaskStatus) (bool, error) {
	if user.Guest {
		return false, nil
	}
	return k.store.CreditStatus(taskID, user.ID, status, k.points.Points(status))
}

// RollbackStatus reverses a prior status credit (review overturned it)
func (k *Keeper) RollbackStatus(taskID int64, userID int64, status types.TaskStatus) error {
	return k.store.RollbackStatusCredit(taskID, userID, status)
}

// CreditReview records a review outcome against a user. asReviewer
// distinguishes the reviewer's tally from the mapper's.
func (k *Keeper) CreditReview(userID int64, outcome types.ReviewStatus, asReviewer bool) error {
	return k.store.CreditReview(userID, outcome, asReviewer)
}

// RollbackReview decrements a review-outcome counter
func (k *Keeper) RollbackReview(userID int64, outcome types.ReviewStatus) error {
	return k.store.RollbackReviewCredit(userID, outcome)
}

// UserScore returns the current tally for a user
func (k *Keeper) UserScore(userID int64) (*store.UserScore, error) {
	return k.store.GetUserScore(userID)
}
