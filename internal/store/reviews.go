package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mapforge/mapforge/internal/types"
)

// GetReview returns a task's review sub-record, or nil when review was never
// requested.
func (s *SQLiteStore) GetReview(taskID int64) (*types.TaskReview, error) {
	var r types.TaskReview
	var status, requestedBy, reviewedBy, claimedBy, metaStatus, metaBy sql.NullInt64
	var requestedAt, reviewedAt, claimedAt, startedAt, metaAt sql.NullTime
	var additional sql.NullString

	err := s.db.QueryRow(`
		SELECT task_id, review_status, requested_by, requested_at,
		       reviewed_by, reviewed_at, claimed_by, claimed_at,
		       review_started_at, meta_review_status, meta_reviewed_by,
		       meta_reviewed_at, additional_reviewers
		FROM task_reviews
		WHERE task_id = ?`,
		taskID,
	).Scan(
		&r.TaskID, &status, &requestedBy, &requestedAt,
		&reviewedBy, &reviewedAt, &claimedBy, &claimedAt,
		&startedAt, &metaStatus, &metaBy, &metaAt, &additional,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}

	r.ReviewStatus = nullReviewStatus(status)
	r.RequestedBy = nullI64Ptr(requestedBy)
	r.ReviewedBy = nullI64Ptr(reviewedBy)
	r.ClaimedBy = nullI64Ptr(claimedBy)
	r.MetaReviewStatus = nullReviewStatus(metaStatus)
	r.MetaReviewedBy = nullI64Ptr(metaBy)
	r.RequestedAt = nullTimePtr(requestedAt)
	r.ReviewedAt = nullTimePtr(reviewedAt)
	r.ClaimedAt = nullTimePtr(claimedAt)
	r.StartedAt = nullTimePtr(startedAt)
	r.MetaReviewedAt = nullTimePtr(metaAt)

	if additional.Valid && additional.String != "" {
		if err := json.Unmarshal([]byte(additional.String), &r.AdditionalReviewers); err != nil {
			return nil, fmt.Errorf("failed to parse additional reviewers: %w", err)
		}
	}

	return &r, nil
}

// RequestReview creates or resets a task's review record to Requested. The
// reviewed_at timestamp is cleared, preserving the invariant that it is null
// while a review is pending.
func (s *SQLiteStore) RequestReview(taskID, userID int64, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO task_reviews (task_id, review_status, requested_by, requested_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			review_status = excluded.review_status,
			requested_by = excluded.requested_by,
			requested_at = excluded.requested_at,
			reviewed_by = NULL,
			reviewed_at = NULL`,
		taskID, types.ReviewRequested, userID, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to request review: %w", err)
	}
	return nil
}

// ClaimReview atomically claims a pending review for a reviewer. The guard
// admits the claim only when the slot is free or already held by the same
// reviewer; zero rows on an existing review means another reviewer got there
// first.
func (s *SQLiteStore) ClaimReview(taskID, userID int64, now time.Time) error {
	ts := now.UTC()
	res, err := s.db.Exec(`
		UPDATE task_reviews
		SET claimed_by = ?, claimed_at = ?, review_started_at = ?
		WHERE task_id = ?
		  AND (claimed_by IS NULL OR claimed_by = ?)`,
		userID, ts, ts, taskID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to claim review: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		review, err := s.GetReview(taskID)
		if err != nil {
			return err
		}
		if review == nil {
			return types.ErrTaskNotFound
		}
		return types.ErrReviewClaimedByOther
	}
	return nil
}

// ReleaseReviewClaim drops a reviewer's claim on a task. Idempotent: no rows
// matching is not an error.
func (s *SQLiteStore) ReleaseReviewClaim(taskID, userID int64) error {
	_, err := s.db.Exec(`
		UPDATE task_reviews
		SET claimed_by = NULL, claimed_at = NULL, review_started_at = NULL
		WHERE task_id = ? AND claimed_by = ?`,
		taskID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to release review claim: %w", err)
	}
	return nil
}

// ReleaseAllReviewClaims drops every claim a reviewer holds and returns the
// count; used so a reviewer never holds more than one claim at a time.
func (s *SQLiteStore) ReleaseAllReviewClaims(userID int64) (int, error) {
	res, err := s.db.Exec(`
		UPDATE task_reviews
		SET claimed_by = NULL, claimed_at = NULL, review_started_at = NULL
		WHERE claimed_by = ?`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release review claims: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return int(rows), nil
}

// UpdateReviewStatus finalizes a review (or meta-review) outcome and clears
// the claim. Setting the status back to Requested clears reviewed_by and
// reviewed_at instead of stamping them.
func (s *SQLiteStore) UpdateReviewStatus(taskID int64, status types.ReviewStatus, reviewedBy int64, now time.Time, meta bool) error {
	ts := now.UTC()
	var res sql.Result
	var err error

	switch {
	case meta:
		res, err = s.db.Exec(`
			UPDATE task_reviews
			SET meta_review_status = ?, meta_reviewed_by = ?, meta_reviewed_at = ?
			WHERE task_id = ?`,
			status, reviewedBy, ts, taskID,
		)
	case status == types.ReviewRequested:
		res, err = s.db.Exec(`
			UPDATE task_reviews
			SET review_status = ?, reviewed_by = NULL, reviewed_at = NULL,
				claimed_by = NULL, claimed_at = NULL, review_started_at = NULL
			WHERE task_id = ?`,
			status, taskID,
		)
	default:
		res, err = s.db.Exec(`
			UPDATE task_reviews
			SET review_status = ?, reviewed_by = ?, reviewed_at = ?,
				claimed_by = NULL, claimed_at = NULL, review_started_at = NULL
			WHERE task_id = ?`,
			status, reviewedBy, ts, taskID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update review status: %w", err)
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

// AddAdditionalReviewer appends a reviewer to the task's additional reviewer
// list (disputed or re-reviewed tasks involve more than one party).
func (s *SQLiteStore) AddAdditionalReviewer(taskID, userID int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		var raw sql.NullString
		err := tx.QueryRow(`
			SELECT additional_reviewers FROM task_reviews WHERE task_id = ?`,
			taskID,
		).Scan(&raw)
		if err == sql.ErrNoRows {
			return types.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read additional reviewers: %w", err)
		}

		var reviewers []int64
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &reviewers); err != nil {
				return fmt.Errorf("failed to parse additional reviewers: %w", err)
			}
		}
		for _, r := range reviewers {
			if r == userID {
				return nil
			}
		}
		reviewers = append(reviewers, userID)

		data, err := json.Marshal(reviewers)
		if err != nil {
			return fmt.Errorf("failed to marshal additional reviewers: %w", err)
		}

		if _, err := tx.Exec(`
			UPDATE task_reviews SET additional_reviewers = ? WHERE task_id = ?`,
			string(data), taskID,
		); err != nil {
			return fmt.Errorf("failed to store additional reviewers: %w", err)
		}
		return nil
	})
}

// InsertReviewHistory appends an audit row for a review transition
func (s *SQLiteStore) InsertReviewHistory(e *types.ReviewHistoryEntry) error {
	var oldStatus sql.NullInt64
	if e.OldStatus != nil {
		oldStatus = sql.NullInt64{Int64: int64(*e.OldStatus), Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO review_history (
			task_id, requested_by, reviewed_by, old_status, new_status,
			meta, comment, error_tags, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID,
		nullInt64(e.RequestedBy),
		nullInt64(e.ReviewedBy),
		oldStatus,
		e.NewStatus,
		boolToInt(e.Meta),
		e.Comment,
		e.ErrorTags,
		e.ReviewedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review history: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get history ID: %w", err)
	}
	e.ID = id
	return nil
}

// GetReviewHistory returns a task's review history, oldest first
func (s *SQLiteStore) GetReviewHistory(taskID int64) ([]*types.ReviewHistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, requested_by, reviewed_by, old_status, new_status,
		       meta, comment, error_tags, reviewed_at
		FROM review_history
		WHERE task_id = ?
		ORDER BY id ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query review history: %w", err)
	}
	defer rows.Close()

	var entries []*types.ReviewHistoryEntry
	for rows.Next() {
		var e types.ReviewHistoryEntry
		var requestedBy, reviewedBy, oldStatus sql.NullInt64
		var meta int

		if err := rows.Scan(
			&e.ID, &e.TaskID, &requestedBy, &reviewedBy, &oldStatus,
			&e.NewStatus, &meta, &e.Comment, &e.ErrorTags, &e.ReviewedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review history: %w", err)
		}

		e.RequestedBy = nullI64Ptr(requestedBy)
		e.ReviewedBy = nullI64Ptr(reviewedBy)
		e.OldStatus = nullReviewStatus(oldStatus)
		e.Meta = meta != 0
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ReviewQueueOptions shapes the review queue query
type ReviewQueueOptions struct {
	ReviewerID    int64
	SortBy        string // "id", "priority", "mapped_on"
	Descending    bool
	IncludeOwn    bool // include tasks the reviewer mapped (self-review)
	ExcludeShared bool // skip tasks other reviewers already weighed in on
	AsMetaReview  bool
	Limit         int
}

var reviewSortColumns = map[string]string{
	"":          "t.id",
	"id":        "t.id",
	"priority":  "t.priority",
	"mapped_on": "t.mapped_on",
}

// ReviewQueue lists tasks awaiting (meta-)review that the reviewer could
// claim: the claim slot is free or already theirs, and their own mapping work
// is excluded unless self-review is allowed.
func (s *SQLiteStore) ReviewQueue(params types.SearchParameters, opts ReviewQueueOptions) ([]*types.Task, error) {
	sortCol, ok := reviewSortColumns[opts.SortBy]
	if !ok {
		return nil, fmt.Errorf("unsupported review sort column %q", opts.SortBy)
	}
	direction := "ASC"
	if opts.Descending {
		direction = "DESC"
	}

	var where []string
	var args []interface{}

	if opts.AsMetaReview {
		// Meta review runs over completed primary reviews that have not
		// received a meta verdict yet.
		where = append(where, "r.review_status IN (?, ?)",
			"(r.meta_review_status IS NULL OR r.meta_review_status = ?)")
		args = append(args, types.ReviewApproved, types.ReviewAssisted, types.ReviewRequested)
	} else {
		where = append(where, "r.review_status = ?")
		args = append(args, types.ReviewRequested)
	}

	where = append(where, "(r.claimed_by IS NULL OR r.claimed_by = ?)")
	args = append(args, opts.ReviewerID)

	if !opts.IncludeOwn {
		where = append(where, "r.requested_by <> ?")
		args = append(args, opts.ReviewerID)
	}

	if opts.ExcludeShared {
		where = append(where, "(r.additional_reviewers IS NULL OR r.additional_reviewers = '' OR r.additional_reviewers = '[]')")
	}

	filterWhere, filterArgs := searchFilterClauses(params)
	where = append(where, filterWhere...)
	args = append(args, filterArgs...)

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.Query(`
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN task_reviews r ON r.task_id = t.id
		JOIN challenges c ON t.challenge_id = c.id
		JOIN projects p ON c.project_id = p.id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY `+sortCol+` `+direction+`
		LIMIT ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query review queue: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ExpireStaleReviewRequests converts Requested reviews older than the cutoff
// to Unnecessary, writing a history row per task inside one transaction.
// Returns the affected task IDs.
func (s *SQLiteStore) ExpireStaleReviewRequests(olderThan time.Duration, now time.Time) ([]int64, error) {
	cutoff := now.UTC().Add(-olderThan)
	var expired []int64

	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT task_id, requested_by FROM task_reviews
			WHERE review_status = ? AND requested_at <= ?`,
			types.ReviewRequested, cutoff,
		)
		if err != nil {
			return fmt.Errorf("failed to query stale reviews: %w", err)
		}

		type stale struct {
			taskID      int64
			requestedBy sql.NullInt64
		}
		var found []stale
		for rows.Next() {
			var st stale
			if err := rows.Scan(&st.taskID, &st.requestedBy); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan stale review: %w", err)
			}
			found = append(found, st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, st := range found {
			if _, err := tx.Exec(`
				UPDATE task_reviews
				SET review_status = ?, claimed_by = NULL, claimed_at = NULL,
					review_started_at = NULL
				WHERE task_id = ?`,
				types.ReviewUnnecessary, st.taskID,
			); err != nil {
				return fmt.Errorf("failed to expire review for task %d: %w", st.taskID, err)
			}

			old := types.ReviewRequested
			if _, err := tx.Exec(`
				INSERT INTO review_history (
					task_id, requested_by, reviewed_by, old_status, new_status,
					meta, comment, error_tags, reviewed_at
				) VALUES (?, ?, NULL, ?, ?, 0, 'expired by hygiene sweep', '', ?)`,
				st.taskID, st.requestedBy, old, types.ReviewUnnecessary, now.UTC(),
			); err != nil {
				return fmt.Errorf("failed to record expiry for task %d: %w", st.taskID, err)
			}

			expired = append(expired, st.taskID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// CopyReviewState copies the primary task's review record onto the listed
// tasks so a bundle behaves as a single review unit.
func (s *SQLiteStore) CopyReviewState(fromTaskID int64, toTaskIDs []int64) error {
	src, err := s.GetReview(fromTaskID)
	if err != nil {
		return err
	}
	if src == nil {
		return nil
	}

	var additional sql.NullString
	if len(src.AdditionalReviewers) > 0 {
		data, err := json.Marshal(src.AdditionalReviewers)
		if err != nil {
			return fmt.Errorf("failed to marshal additional reviewers: %w", err)
		}
		additional = nullString(string(data))
	}

	return s.withTx(func(tx *sql.Tx) error {
		for _, id := range toTaskIDs {
			if id == fromTaskID {
				continue
			}
			if _, err := tx.Exec(`
				INSERT INTO task_reviews (
					task_id, review_status, requested_by, requested_at,
					reviewed_by, reviewed_at, meta_review_status,
					meta_reviewed_by, meta_reviewed_at, additional_reviewers
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(task_id) DO UPDATE SET
					review_status = excluded.review_status,
					requested_by = excluded.requested_by,
					requested_at = excluded.requested_at,
					reviewed_by = excluded.reviewed_by,
					reviewed_at = excluded.reviewed_at,
					meta_review_status = excluded.meta_review_status,
					meta_reviewed_by = excluded.meta_reviewed_by,
					meta_reviewed_at = excluded.meta_reviewed_at,
					additional_reviewers = excluded.additional_reviewers`,
				id,
				nullReviewStatusValue(src.ReviewStatus),
				nullInt64(src.RequestedBy),
				nullTime(src.RequestedAt),
				nullInt64(src.ReviewedBy),
				nullTime(src.ReviewedAt),
				nullReviewStatusValue(src.MetaReviewStatus),
				nullInt64(src.MetaReviewedBy),
				nullTime(src.MetaReviewedAt),
				additional,
			); err != nil {
				return fmt.Errorf("failed to copy review state to task %d: %w", id, err)
			}
		}
		return nil
	})
}

// ClearReview removes a task's review record entirely (bundle teardown)
func (s *SQLiteStore) ClearReview(taskID int64) error {
	if _, err := s.db.Exec(`DELETE FROM task_reviews WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to clear review: %w", err)
	}
	return nil
}

// Null conversion helpers shared by review scanning

func nullI64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullReviewStatus(v sql.NullInt64) *types.ReviewStatus {
	if !v.Valid {
		return nil
	}
	st := types.ReviewStatus(v.Int64)
	return &st
}

func nullReviewStatusValue(st *types.ReviewStatus) sql.NullInt64 {
	if st == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(*st), Valid: true}
}
