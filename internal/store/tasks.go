package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mapforge/mapforge/internal/types"
)

const taskColumns = `t.id, t.challenge_id, t.name, t.instruction, t.geojson,
	t.location_lon, t.location_lat, t.status, t.priority, t.mapped_on,
	t.responses, t.bundle_id, t.is_bundle_primary, t.created_at, t.updated_at`

// CreateTask inserts a task, deriving its centroid location from geometry
func (s *SQLiteStore) CreateTask(t *types.Task) error {
	var geo sql.NullString
	var lon, lat *float64
	if t.Geometry != nil {
		data, err := json.Marshal(t.Geometry)
		if err != nil {
			return fmt.Errorf("failed to marshal geometry: %w", err)
		}
		geo = nullString(string(data))
		if c := t.Geometry.Centroid(); c != nil {
			lon, lat = &c.Lon, &c.Lat
			t.Location = c
		}
	}

	res, err := s.db.Exec(`
		INSERT INTO tasks (challenge_id, name, instruction, geojson,
			location_lon, location_lat, status, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ChallengeID, t.Name, t.Instruction, geo,
		nullFloat(lon), nullFloat(lat), t.Status, t.Priority,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get task ID: %w", err)
	}
	t.ID = id
	return nil
}

// GetTask retrieves a task by ID, including its review sub-record if any
func (s *SQLiteStore) GetTask(id int64) (*types.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	review, err := s.GetReview(id)
	if err != nil {
		return nil, err
	}
	task.Review = review
	return task, nil
}

// GetTasksByIDs retrieves the listed tasks; missing IDs are silently skipped
func (s *SQLiteStore) GetTasksByIDs(ids []int64) ([]*types.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks t WHERE t.id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// GetTasksByChallenge retrieves every task belonging to a challenge
func (s *SQLiteStore) GetTasksByChallenge(challengeID int64) ([]*types.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks t WHERE t.challenge_id = ? ORDER BY t.id`,
		challengeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query challenge tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// UpdateTaskPriority persists a reclassified priority tier
func (s *SQLiteStore) UpdateTaskPriority(taskID int64, p types.Priority) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET priority = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		p, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task priority: %w", err)
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

// UpdateTaskGeometry replaces a task's geometry and recomputes its centroid
func (s *SQLiteStore) UpdateTaskGeometry(taskID int64, fc *types.FeatureCollection) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to marshal geometry: %w", err)
	}

	var lon, lat *float64
	if c := fc.Centroid(); c != nil {
		lon, lat = &c.Lon, &c.Lat
	}

	res, err := s.db.Exec(`
		UPDATE tasks SET geojson = ?, location_lon = ?, location_lat = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(data), nullFloat(lon), nullFloat(lat), taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task geometry: %w", err)
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

// SetTaskStatus writes a task's status with the lock-ownership guard baked
// into the statement: the update matches zero rows when a different user
// holds a lock on the task, so a racing writer can never silently overwrite
// another user's change. Zero rows on an existing task means locked-by-other.
func (s *SQLiteStore) SetTaskStatus(taskID int64, status types.TaskStatus, userID int64, mappedOn *time.Time, responses map[string]string) error {
	var resp sql.NullString
	if len(responses) > 0 {
		data, err := json.Marshal(responses)
		if err != nil {
			return fmt.Errorf("failed to marshal responses: %w", err)
		}
		resp = nullString(string(data))
	}

	var res sql.Result
	var err error
	if resp.Valid {
		res, err = s.db.Exec(`
			UPDATE tasks SET status = ?, mapped_on = ?, responses = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
			  AND NOT EXISTS (
				SELECT 1 FROM locks l
				WHERE l.item_type = ? AND l.item_id = tasks.id AND l.locked_by <> ?)`,
			status, nullTime(mappedOn), resp, taskID, types.ItemTask, userID,
		)
	} else {
		res, err = s.db.Exec(`
			UPDATE tasks SET status = ?, mapped_on = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
			  AND NOT EXISTS (
				SELECT 1 FROM locks l
				WHERE l.item_type = ? AND l.item_id = tasks.id AND l.locked_by <> ?)`,
			status, nullTime(mappedOn), taskID, types.ItemTask, userID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		exists, err := s.taskExists(taskID)
		if err != nil {
			return err
		}
		if !exists {
			return types.ErrTaskNotFound
		}
		return types.ErrLockHeldByOther
	}
	return nil
}

func (s *SQLiteStore) taskExists(taskID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM tasks WHERE id = ?`, taskID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check task existence: %w", err)
	}
	return true, nil
}

// CountEligible counts selection candidates for a priority tier
func (s *SQLiteStore) CountEligible(params types.SearchParameters, tier types.Priority, userID int64) (int, error) {
	where, args := eligibleWhere(params, tier, userID)

	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM tasks t
		JOIN challenges c ON t.challenge_id = c.id
		JOIN projects p ON c.project_id = p.id
		WHERE `+where, args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count eligible tasks: %w", err)
	}
	return count, nil
}

// EligibleTasks fetches a page of selection candidates starting at offset.
// Ordering is stable (by task id) so that a random offset yields a uniform
// draw over the candidate set.
func (s *SQLiteStore) EligibleTasks(params types.SearchParameters, tier types.Priority, userID int64, limit, offset int) ([]*types.Task, error) {
	where, args := eligibleWhere(params, tier, userID)
	args = append(args, limit, offset)

	rows, err := s.db.Query(`
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN challenges c ON t.challenge_id = c.id
		JOIN projects p ON c.project_id = p.id
		WHERE `+where+`
		ORDER BY t.id
		LIMIT ? OFFSET ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// eligibleWhere builds the candidate predicate shared by count and fetch:
// claimable status, requested tier, unbundled, not locked by anyone else,
// parent challenge and project enabled, plus the optional search filters.
func eligibleWhere(params types.SearchParameters, tier types.Priority, userID int64) (string, []interface{}) {
	var where []string
	var args []interface{}

	statuses := params.Statuses
	if len(statuses) == 0 {
		statuses = types.ClaimableStatuses
	}
	in := make([]string, len(statuses))
	for i, st := range statuses {
		in[i] = "?"
		args = append(args, st)
	}
	where = append(where, "t.status IN ("+strings.Join(in, ", ")+")")

	where = append(where, "t.priority = ?")
	args = append(args, tier)

	where = append(where, "t.bundle_id IS NULL")

	where = append(where, `NOT EXISTS (
		SELECT 1 FROM locks l
		WHERE l.item_type = ? AND l.item_id = t.id AND l.locked_by <> ?)`)
	args = append(args, types.ItemTask, userID)

	filterWhere, filterArgs := searchFilterClauses(params)
	where = append(where, filterWhere...)
	args = append(args, filterArgs...)

	return strings.Join(where, " AND "), args
}

// searchFilterClauses translates the optional SearchParameters filters into
// WHERE clauses. Shared between random selection and the review queue; both
// queries alias tasks as t, challenges as c, and projects as p.
func searchFilterClauses(params types.SearchParameters) ([]string, []interface{}) {
	var where []string
	var args []interface{}

	if !params.IncludeDisabled {
		where = append(where, "c.enabled = 1", "p.enabled = 1")
	}

	if len(params.ChallengeIDs) > 0 {
		where = append(where, "t.challenge_id IN ("+placeholders(len(params.ChallengeIDs))+")")
		for _, id := range params.ChallengeIDs {
			args = append(args, id)
		}
	}

	if len(params.ProjectIDs) > 0 {
		where = append(where, "c.project_id IN ("+placeholders(len(params.ProjectIDs))+")")
		for _, id := range params.ProjectIDs {
			args = append(args, id)
		}
	}

	if len(params.ChallengeTags) > 0 {
		tagClauses := make([]string, len(params.ChallengeTags))
		for i, tag := range params.ChallengeTags {
			tagClauses[i] = "(',' || c.tags || ',') LIKE ?"
			args = append(args, "%,"+tag+",%")
		}
		where = append(where, "("+strings.Join(tagClauses, " OR ")+")")
	}

	if params.TaskName != "" {
		where = append(where, "t.name LIKE ?")
		args = append(args, "%"+params.TaskName+"%")
	}

	if b := params.BoundingBox; b != nil {
		where = append(where, "t.location_lon BETWEEN ? AND ?", "t.location_lat BETWEEN ? AND ?")
		args = append(args, b.MinLon, b.MaxLon, b.MinLat, b.MaxLat)
	}

	return where, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Helper scanning functions

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	var geo, resp sql.NullString
	var lon, lat sql.NullFloat64
	var mappedOn sql.NullTime
	var bundleID sql.NullInt64
	var primary int

	err := row.Scan(
		&t.ID, &t.ChallengeID, &t.Name, &t.Instruction, &geo,
		&lon, &lat, &t.Status, &t.Priority, &mappedOn,
		&resp, &bundleID, &primary, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if geo.Valid {
		fc, err := types.ParseFeatureCollection([]byte(geo.String))
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", t.ID, err)
		}
		t.Geometry = fc
	}
	if lon.Valid && lat.Valid {
		t.Location = &types.Point{Lon: lon.Float64, Lat: lat.Float64}
	}
	if mappedOn.Valid {
		mo := mappedOn.Time
		t.MappedOn = &mo
	}
	if resp.Valid {
		if err := json.Unmarshal([]byte(resp.String), &t.Responses); err != nil {
			return nil, fmt.Errorf("task %d: failed to parse responses: %w", t.ID, err)
		}
	}
	if bundleID.Valid {
		id := bundleID.Int64
		t.BundleID = &id
	}
	t.IsBundlePrimary = primary != 0

	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
