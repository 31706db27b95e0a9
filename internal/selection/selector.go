// Package selection hands out random eligible tasks to mappers. Selection
// pages into the candidate set at a uniform random offset so concurrent
// mappers tend to land on different tasks instead of all fighting over the
// lowest id.
package selection

import (
	"errors"
	"log"
	"math/rand"
	"time"

	"github.com/mapforge/mapforge/internal/actions"
	"github.com/mapforge/mapforge/internal/events"
	"github.com/mapforge/mapforge/internal/locking"
	"github.com/mapforge/mapforge/internal/types"
)

// Store is the task query surface the selector needs
type Store interface {
	CountEligible(params types.SearchParameters, tier types.Priority, userID int64) (int, error)
	EligibleTasks(params types.SearchParameters, tier types.Priority, userID int64, limit, offset int) ([]*types.Task, error)
}

// Publisher is the optional event sink for claim announcements
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Selector picks random claimable tasks and locks them for the caller
type Selector struct {
	store     Store
	locks     *locking.Manager
	audit     *actions.Logger
	publisher Publisher

	// intn is swappable for deterministic tests
	intn func(n int) int
}

// New creates a selector backed by the given store and lock manager.
// audit and publisher may be nil.
func New(store Store, locks *locking.Manager, audit *actions.Logger, publisher Publisher) *Selector {
	return &Selector{store: store, locks: locks, audit: audit, publisher: publisher, intn: rand.Intn}
}

// SelectRandom returns up to limit tasks from the given priority tier,
// locked for user. Any locks the user already holds on other tasks are
// released first so a mapper never accumulates a backlog of claims.
// Candidates that another user locks between the query and the grant are
// dropped rather than retried. Guests receive candidates without locks.
// The offset is drawn uniformly over the whole candidate set, so a page
// near the tail may come back shorter than limit.
func (s *Selector) SelectRandom(user types.User, params types.SearchParameters, tier types.Priority, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		limit = 1
	}
	count, err := s.store.CountEligible(params, tier, user.ID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, types.ErrNoTasksFound
	}

	offset := s.intn(count)
	candidates, err := s.store.EligibleTasks(params, tier, user.ID, limit, offset)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, types.ErrNoTasksFound
	}

	if user.Guest {
		return candidates, nil
	}

	if n := s.locks.ReleaseAll(user, types.ItemTask); n > 0 {
		log.Printf("[SELECT] released %d prior task locks for user %d", n, user.ID)
		if s.audit != nil {
			s.audit.Record(user, types.ItemTask, 0, actions.KindTaskReleased,
				"released prior claims")
		}
	}

	granted := make([]*types.Task, 0, len(candidates))
	for _, t := range candidates {
		if err := s.locks.Acquire(types.ItemTask, t.ID, user); err != nil {
			if errors.Is(err, types.ErrLockHeldByOther) {
				continue
			}
			return nil, err
		}
		granted = append(granted, t)
	}
	if len(granted) == 0 {
		return nil, types.ErrNoTasksFound
	}
	for _, t := range granted {
		if s.audit != nil {
			s.audit.Record(user, types.ItemTask, t.ID, actions.KindTaskClaimed, "")
		}
		if s.publisher != nil {
			s.publisher.PublishJSON(events.SubjectTaskClaimed, &events.TaskClaimedMessage{
				TaskID:    t.ID,
				UserID:    user.ID,
				Timestamp: time.Now(),
			})
		}
	}
	return granted, nil
}

// RandomWithPriority walks the tiers from high to low and returns tasks
// from the first tier that has any. ErrNoTasksFound means every tier is
// exhausted.
func (s *Selector) RandomWithPriority(user types.User, params types.SearchParameters, limit int) ([]*types.Task, error) {
	for _, tier := range types.Priorities {
		tasks, err := s.SelectRandom(user, params, tier, limit)
		if err == nil {
			return tasks, nil
		}
		if !errors.Is(err, types.ErrNoTasksFound) {
			return nil, err
		}
	}
	return nil, types.ErrNoTasksFound
}
