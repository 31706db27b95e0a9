// Package actions records audit entries for every state-changing operation.
// Recording is fire-and-forget from the caller's perspective: failures are
// logged, never propagated.
package actions

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mapforge/mapforge/internal/events"
	"github.com/mapforge/mapforge/internal/types"
)

// Event kinds recorded by the core
const (
	KindStatusSet     = "status_set"
	KindTaskClaimed   = "task_claimed"
	KindTaskReleased  = "task_released"
	KindReviewStarted = "review_started"
	KindReviewSet     = "review_status_set"
	KindMetaReviewSet = "meta_review_status_set"
	KindBundleCreated = "bundle_created"
	KindBundleDeleted = "bundle_deleted"
)

// Entry is one audit action row
type Entry struct {
	ID        string
	UserID    int64
	ItemType  types.ItemType
	ItemID    int64
	Action    string
	Detail    string
	CreatedAt time.Time
}

// Store persists audit entries in its own table, managing its own schema
type Store struct {
	db *sql.DB
}

// NewStore initializes the actions table on the shared database handle
func NewStore(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize actions schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		item_type INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_actions_item ON actions(item_type, item_id);
	CREATE INDEX IF NOT EXISTS idx_actions_user ON actions(user_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Save persists an entry, assigning it an ID if absent
func (s *Store) Save(e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO actions (id, user_id, item_type, item_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ItemType, e.ItemID, e.Action, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

// ForItem returns the audit trail for an item, newest first
func (s *Store) ForItem(itemType types.ItemType, itemID int64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, item_type, item_id, action, detail, created_at
		FROM actions
		WHERE item_type = ? AND item_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		itemType, itemID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ItemType, &e.ItemID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Publisher is the optional broadcast side of the logger
type Publisher interface {
	PublishJSON(subject string, v interface{}) error
}

// Logger records audit entries and optionally broadcasts them. A nil
// publisher disables broadcasting.
type Logger struct {
	store     *Store
	publisher Publisher
}

// NewLogger creates an audit logger
func NewLogger(store *Store, publisher Publisher) *Logger {
	return &Logger{store: store, publisher: publisher}
}

// Record writes an audit entry best-effort. Errors are logged and swallowed;
// an audit hiccup must never fail the operation being audited.
func (l *Logger) Record(user types.User, itemType types.ItemType, itemID int64, kind, detail string) {
	e := &Entry{
		UserID:    user.ID,
		ItemType:  itemType,
		ItemID:    itemID,
		Action:    kind,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}

	if err := l.store.Save(e); err != nil {
		log.Printf("[AUDIT] failed to record %s for %s %d: %v", kind, itemType, itemID, err)
		return
	}

	if l.publisher == nil {
		return
	}
	msg := events.AuditMessage{
		ID:        e.ID,
		UserID:    e.UserID,
		ItemType:  itemType.String(),
		ItemID:    itemID,
		Action:    kind,
		Detail:    detail,
		Timestamp: e.CreatedAt,
	}
	if err := l.publisher.PublishJSON(events.SubjectAudit, msg); err != nil {
		log.Printf("[AUDIT] failed to publish %s: %v", kind, err)
	}
}
