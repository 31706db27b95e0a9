package priority

import (
	"fmt"
	"log"

	"github.com/mapforge/mapforge/internal/cache"
	"github.com/mapforge/mapforge/internal/types"
)

// ChallengeRules is a challenge's parsed rule set, cached per challenge so
// the JSON trees are not re-parsed for every task.
type ChallengeRules struct {
	High    *RuleGroup
	Medium  *RuleGroup
	Low     *RuleGroup
	Default types.Priority
}

// ParseChallengeRules parses all three tiers of a challenge's rules
func ParseChallengeRules(c *types.Challenge) (*ChallengeRules, error) {
	high, err := ParseRuleGroup(c.HighPriorityRule)
	if err != nil {
		return nil, fmt.Errorf("challenge %d high rule: %w", c.ID, err)
	}
	medium, err := ParseRuleGroup(c.MediumPriorityRule)
	if err != nil {
		return nil, fmt.Errorf("challenge %d medium rule: %w", c.ID, err)
	}
	low, err := ParseRuleGroup(c.LowPriorityRule)
	if err != nil {
		return nil, fmt.Errorf("challenge %d low rule: %w", c.ID, err)
	}
	return &ChallengeRules{
		High:    high,
		Medium:  medium,
		Low:     low,
		Default: c.DefaultPriority,
	}, nil
}

// Classify returns the task's tier: the first rule set, checked in
// high → medium → low order, that matches any feature's properties wins.
// First-match-in-order is deliberate; there is no specificity ranking.
// Falls back to the challenge default when nothing matches.
func (r *ChallengeRules) Classify(task *types.Task) types.Priority {
	if task.Geometry == nil {
		return r.Default
	}

	tiers := []struct {
		group *RuleGroup
		p     types.Priority
	}{
		{r.High, types.PriorityHigh},
		{r.Medium, types.PriorityMedium},
		{r.Low, types.PriorityLow},
	}

	for _, tier := range tiers {
		if !tier.group.Valid() {
			continue
		}
		for _, f := range task.Geometry.Features {
			if tier.group.Matches(f.Properties) {
				return tier.p
			}
		}
	}
	return r.Default
}

// Classify is the one-shot form used when no service is wired
func Classify(task *types.Task, c *types.Challenge) (types.Priority, error) {
	rules, err := ParseChallengeRules(c)
	if err != nil {
		return c.DefaultPriority, err
	}
	return rules.Classify(task), nil
}

// Store is the persistence capability the classification service needs
type Store interface {
	GetChallenge(id int64) (*types.Challenge, error)
	GetTasksByChallenge(challengeID int64) ([]*types.Task, error)
	UpdateTaskPriority(taskID int64, p types.Priority) error
}

// Service classifies tasks on demand, caching parsed rule sets per challenge
type Service struct {
	store Store
	rules *cache.Cache[int64, *ChallengeRules]
}

// NewService creates a classification service backed by the given store
func NewService(store Store, rules *cache.Cache[int64, *ChallengeRules]) *Service {
	return &Service{store: store, rules: rules}
}

// RulesFor returns the cached (or freshly parsed) rules for a challenge
func (s *Service) RulesFor(challengeID int64) (*ChallengeRules, error) {
	if rules, ok := s.rules.Get(challengeID); ok {
		return rules, nil
	}

	challenge, err := s.store.GetChallenge(challengeID)
	if err != nil {
		return nil, err
	}
	rules, err := ParseChallengeRules(challenge)
	if err != nil {
		return nil, err
	}
	s.rules.Put(challengeID, rules)
	return rules, nil
}

// Invalidate drops a challenge's cached rules; call after rule edits
func (s *Service) Invalidate(challengeID int64) {
	s.rules.Remove(challengeID)
}

// ClassifyTask computes a task's tier from its parent challenge's rules
func (s *Service) ClassifyTask(task *types.Task) (types.Priority, error) {
	rules, err := s.RulesFor(task.ChallengeID)
	if err != nil {
		return types.PriorityHigh, err
	}
	return rules.Classify(task), nil
}

// RefreshChallenge re-runs classification across every task of a challenge,
// persisting tiers that changed. Returns the number of tasks updated.
func (s *Service) RefreshChallenge(challengeID int64) (int, error) {
	s.Invalidate(challengeID)
	rules, err := s.RulesFor(challengeID)
	if err != nil {
		return 0, err
	}

	tasks, err := s.store.GetTasksByChallenge(challengeID)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, task := range tasks {
		p := rules.Classify(task)
		if p == task.Priority {
			continue
		}
		if err := s.store.UpdateTaskPriority(task.ID, p); err != nil {
			log.Printf("[PRIORITY] failed to update task %d: %v", task.ID, err)
			continue
		}
		updated++
	}
	return updated, nil
}
