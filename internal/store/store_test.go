package store

import (
	"path/filepath"
	"testing"

	"github.com/mapforge/mapforge/internal/types"
)

// setupTestStore creates a temporary test database
func setupTestStore(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}

	cleanup := func() {
		s.Close()
	}
	return s, cleanup
}

// seedChallenge creates a project and a challenge to hang tasks off
func seedChallenge(t *testing.T, s *SQLiteStore) *types.Challenge {
	t.Helper()
	p := &types.Project{Name: "Test Project", Enabled: true}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}
	c := &types.Challenge{
		ProjectID:       p.ID,
		Name:            "Test Challenge",
		Enabled:         true,
		Tags:            []string{"test"},
		DefaultPriority: types.PriorityHigh,
	}
	if err := s.CreateChallenge(c); err != nil {
		t.Fatalf("Failed to create challenge: %v", err)
	}
	return c
}

// seedTask creates a bare task on the given challenge
func seedTask(t *testing.T, s *SQLiteStore, challengeID int64, name string) *types.Task {
	t.Helper()
	task := &types.Task{
		ChallengeID: challengeID,
		Name:        name,
		Instruction: "fix the thing",
		Status:      types.StatusCreated,
		Priority:    types.PriorityHigh,
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("Failed to create task %s: %v", name, err)
	}
	return task
}
