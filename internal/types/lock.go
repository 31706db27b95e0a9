package types

import "time"

// ItemType identifies which kind of item a lock covers
type ItemType int

// Lockable item types
const (
	ItemTask   ItemType = 1
	ItemBundle ItemType = 2
)

// String returns a human readable item type name
func (t ItemType) String() string {
	switch t {
	case ItemTask:
		return "task"
	case ItemBundle:
		return "bundle"
	default:
		return "unknown"
	}
}

// Lock is an advisory exclusivity marker on an item. At most one lock exists
// per (item type, item id); a lock older than the configured expiry is stale
// and may be silently reclaimed by a new requester.
type Lock struct {
	ItemType ItemType
	ItemID   int64
	LockedBy int64
	LockedAt time.Time
}

// Stale reports whether the lock has outlived the given TTL
func (l *Lock) Stale(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(l.LockedAt) > ttl
}

// BoundingBox is a lon/lat rectangle filter
type BoundingBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Contains reports whether the point lies inside the box
func (b *BoundingBox) Contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon &&
		p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// SearchParameters narrows candidate task sets during selection and review
// queue queries. It is an immutable per-request value; the core only reads
// it.
type SearchParameters struct {
	ProjectIDs      []int64
	ChallengeIDs    []int64
	ChallengeTags   []string
	TaskName        string // substring match on task name
	Statuses        []TaskStatus
	BoundingBox     *BoundingBox
	IncludeDisabled bool // include tasks from disabled challenges/projects
}
