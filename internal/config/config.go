package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mapforge/mapforge/internal/types"
)

// Default returns the configuration used when no file is present
func Default() *types.Config {
	return &types.Config{
		Database: types.DatabaseConfig{Path: "data/mapforge.db"},
		Locks:    types.LockConfig{Expiry: types.Duration(time.Hour)},
		Tasks:    types.TaskConfig{ResetInterval: types.Duration(7 * 24 * time.Hour)},
		Reviews:  types.ReviewConfig{ClaimExpiry: types.Duration(7 * 24 * time.Hour)},
		Scoring: types.ScoringConfig{
			Fixed:         5,
			FalsePositive: 3,
			AlreadyFixed:  3,
			TooHard:       1,
			Skipped:       0,
		},
	}
}

// Load reads configuration from YAML, filling unset fields with defaults
func Load(path string) (*types.Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Zero durations mean the field was omitted; keep defaults
	defaults := Default()
	if cfg.Locks.Expiry == 0 {
		cfg.Locks.Expiry = defaults.Locks.Expiry
	}
	if cfg.Tasks.ResetInterval == 0 {
		cfg.Tasks.ResetInterval = defaults.Tasks.ResetInterval
	}
	if cfg.Reviews.ClaimExpiry == 0 {
		cfg.Reviews.ClaimExpiry = defaults.Reviews.ClaimExpiry
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaults.Database.Path
	}

	return cfg, nil
}
