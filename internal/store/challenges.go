package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/mapforge/mapforge/internal/types"
)

// CreateProject inserts a project and fills in its ID
func (s *SQLiteStore) CreateProject(p *types.Project) error {
	res, err := s.db.Exec(`
		INSERT INTO projects (name, enabled)
		VALUES (?, ?)`,
		p.Name, boolToInt(p.Enabled),
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get project ID: %w", err)
	}
	p.ID = id
	return nil
}

// CreateChallenge inserts a challenge and fills in its ID
func (s *SQLiteStore) CreateChallenge(c *types.Challenge) error {
	res, err := s.db.Exec(`
		INSERT INTO challenges (
			project_id, name, enabled, tags, default_priority,
			high_priority_rule, medium_priority_rule, low_priority_rule
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ProjectID,
		c.Name,
		boolToInt(c.Enabled),
		strings.Join(c.Tags, ","),
		c.DefaultPriority,
		nullString(c.HighPriorityRule),
		nullString(c.MediumPriorityRule),
		nullString(c.LowPriorityRule),
	)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get challenge ID: %w", err)
	}
	c.ID = id
	return nil
}

// GetChallenge retrieves a challenge by ID
func (s *SQLiteStore) GetChallenge(id int64) (*types.Challenge, error) {
	var c types.Challenge
	var tags string
	var enabled int
	var high, medium, low sql.NullString

	err := s.db.QueryRow(`
		SELECT id, project_id, name, enabled, tags, default_priority,
		       high_priority_rule, medium_priority_rule, low_priority_rule,
		       created_at
		FROM challenges
		WHERE id = ?`,
		id,
	).Scan(
		&c.ID, &c.ProjectID, &c.Name, &enabled, &tags, &c.DefaultPriority,
		&high, &medium, &low, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, types.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	c.Enabled = enabled != 0
	if tags != "" {
		c.Tags = strings.Split(tags, ",")
	}
	c.HighPriorityRule = high.String
	c.MediumPriorityRule = medium.String
	c.LowPriorityRule = low.String

	return &c, nil
}

// SetChallengeEnabled toggles a challenge's visibility to selection
func (s *SQLiteStore) SetChallengeEnabled(id int64, enabled bool) error {
	res, err := s.db.Exec(`UPDATE challenges SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to update challenge: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return types.ErrChallengeNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
