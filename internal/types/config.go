package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "1h"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config loaded from mapforge.yaml
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Locks    LockConfig     `yaml:"locks"`
	Tasks    TaskConfig     `yaml:"tasks"`
	Reviews  ReviewConfig   `yaml:"reviews"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	NATS     NATSConfig     `yaml:"nats"`
}

// DatabaseConfig locates the SQLite database
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LockConfig controls edit-lock behavior
type LockConfig struct {
	// Expiry is the TTL after which a lock is stale and may be reclaimed
	Expiry Duration `yaml:"expiry"`
}

// TaskConfig controls task lifecycle hygiene
type TaskConfig struct {
	// ResetInterval is how long after mapping a task is considered stale;
	// re-applying an unchanged status past this age recycles it to Created.
	ResetInterval Duration `yaml:"reset_interval"`
}

// ReviewConfig controls the review workflow
type ReviewConfig struct {
	// ClaimExpiry bounds how long a pending review may sit before the
	// expiry sweep converts it to Unnecessary
	ClaimExpiry Duration `yaml:"claim_expiry"`
	// AllowSelfReview permits mappers to review their own work (normally off)
	AllowSelfReview bool `yaml:"allow_self_review"`
}

// ScoringConfig holds the points awarded per completion status
type ScoringConfig struct {
	Fixed         int `yaml:"fixed"`
	FalsePositive int `yaml:"false_positive"`
	AlreadyFixed  int `yaml:"already_fixed"`
	TooHard       int `yaml:"too_hard"`
	Skipped       int `yaml:"skipped"`
}

// NATSConfig configures the optional event publisher. Empty URL disables it.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// Points returns the score awarded for completing a task with the given
// status. Statuses outside the completion set score zero.
func (c ScoringConfig) Points(status TaskStatus) int {
	switch status {
	case StatusFixed:
		return c.Fixed
	case StatusFalsePositive:
		return c.FalsePositive
	case StatusAlreadyFixed:
		return c.AlreadyFixed
	case StatusTooHard:
		return c.TooHard
	case StatusSkipped:
		return c.Skipped
	default:
		return 0
	}
}
