// Package review runs the review workflow: claiming tasks out of the review
// queue, recording verdicts, disputes, and the second-pass meta review. The
// review claim is a column guard on the review row, separate from the edit
// lock, so a reviewer inspecting a task never blocks a mapper elsewhere.
package review

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mapforge/mapforge/internal/actions"
	"github.com/mapforge/mapforge/internal/events"
	"github.com/mapforge/mapforge/internal/scoring"
	"github.com/mapforge/mapforge/internal/status"
	"github.com/mapforge/mapforge/internal/store"
	"github.com/mapforge/mapforge/internal/types"
)

// Store is the persistence surface the review service needs
type Store interface {
	GetTask(id int64) (*types.Task, error)
	GetReview(taskID int64) (*types.TaskReview, error)
	ClaimReview(taskID, userID int64, now time.Time) error
	ReleaseReviewClaim(taskID, userID int64) error
	ReleaseAllReviewClaims(userID int64) (int, error)
	UpdateReviewStatus(taskID int64, status types.ReviewStatus, reviewedBy int64, now time.Time, meta bool) error
	AddAdditionalReviewer(taskID, userID int64) error
	InsertReviewHistory(e *types.ReviewHistoryEntry) error
	GetReviewHistory(taskID int64) ([]*types.ReviewHistoryEntry, error)
	ReviewQueue(params types.SearchParameters, opts store.ReviewQueueOptions) ([]*types.Task, error)
	ExpireStaleReviewRequests(olderThan time.Duration, now time.Time) ([]int64, error)
	CopyReviewState(fromTaskID int64, toTaskIDs []int64) error
	GetBundle(id int64) (*types.TaskBundle, error)
}

// Publisher is the optional event sink for review announcements
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Service coordinates review claims and verdicts
type Service struct {
	store     Store
	statuses  *status.Service
	scores    *scoring.Keeper
	audit     *actions.Logger
	publisher Publisher

	allowSelfReview bool
	claimExpiry     time.Duration
	now             func() time.Time
}

// NewService wires a review service. publisher may be nil.
func NewService(store Store, statuses *status.Service, scores *scoring.Keeper, audit *actions.Logger, publisher Publisher, allowSelfReview bool, claimExpiry time.Duration) *Service {
	return &Service{
		store:           store,
		statuses:        statuses,
		scores:          scores,
		audit:           audit,
		publisher:       publisher,
		allowSelfReview: allowSelfReview,
		claimExpiry:     claimExpiry,
		now:             time.Now,
	}
}

// Start claims the review of a task for the reviewer. The task must be
// waiting for review and must not be the reviewer's own work unless
// self-review is enabled.
func (s *Service) Start(taskID int64, reviewer types.User) error {
	if reviewer.Guest {
		return types.ErrGuestNotAllowed
	}
	review, err := s.store.GetReview(taskID)
	if err != nil {
		return err
	}
	if review == nil || !review.Requested() {
		return fmt.Errorf("task %d is not awaiting review: %w", taskID, types.ErrTaskNotFound)
	}
	if err := s.checkSelfReview(review, reviewer); err != nil {
		return err
	}
	if err := s.store.ClaimReview(taskID, reviewer.ID, s.now()); err != nil {
		return err
	}
	s.audit.Record(reviewer, types.ItemTask, taskID, actions.KindReviewStarted, "")
	return nil
}

// Cancel releases the reviewer's claim without a verdict. Releasing a claim
// that is not held is a no-op.
func (s *Service) Cancel(taskID int64, reviewer types.User) error {
	if reviewer.Guest {
		return types.ErrGuestNotAllowed
	}
	return s.store.ReleaseReviewClaim(taskID, reviewer.ID)
}

// Next hands the reviewer the next claimable task from the review queue,
// releasing any claims they still hold first. Tasks claimed by a competing
// reviewer between the query and the claim are skipped.
func (s *Service) Next(reviewer types.User, params types.SearchParameters, opts store.ReviewQueueOptions) (*types.Task, error) {
	if reviewer.Guest {
		return nil, types.ErrGuestNotAllowed
	}
	opts.ReviewerID = reviewer.ID
	opts.IncludeOwn = opts.IncludeOwn || s.allowSelfReview

	if n, err := s.store.ReleaseAllReviewClaims(reviewer.ID); err != nil {
		return nil, err
	} else if n > 0 {
		log.Printf("[REVIEW] released %d prior review claims for user %d", n, reviewer.ID)
	}

	tasks, err := s.store.ReviewQueue(params, opts)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		err := s.store.ClaimReview(t.ID, reviewer.ID, s.now())
		if err == nil {
			s.audit.Record(reviewer, types.ItemTask, t.ID, actions.KindReviewStarted, "from queue")
			return t, nil
		}
		if errors.Is(err, types.ErrReviewClaimedByOther) || errors.Is(err, types.ErrTaskNotFound) {
			continue
		}
		return nil, err
	}
	return nil, types.ErrNoTasksFound
}

// VerdictOptions modifies a review verdict
type VerdictOptions struct {
	// Comment is stored with the history row
	Comment string

	// ErrorTags annotates a rejection with the problem categories found
	ErrorTags string

	// RevisedStatus is the status a rejected task falls back to so the
	// mapper can rework it. Zero value means created.
	RevisedStatus types.TaskStatus
}

// SetVerdict records the reviewer's verdict on a task. Approved, Rejected,
// and Assisted are terminal for the current round; Rejected additionally
// reopens the task for the mapper and rolls their completion credit back.
// A verdict on a bundle primary propagates to the other bundle members.
func (s *Service) SetVerdict(taskID int64, verdict types.ReviewStatus, reviewer types.User, opts VerdictOptions) error {
	if reviewer.Guest {
		return types.ErrGuestNotAllowed
	}
	if verdict != types.ReviewApproved && verdict != types.ReviewRejected && verdict != types.ReviewAssisted {
		return fmt.Errorf("verdict must be approved, rejected, or assisted, got %s", verdict)
	}
	review, err := s.store.GetReview(taskID)
	if err != nil {
		return err
	}
	if review == nil || !review.Requested() {
		return fmt.Errorf("task %d is not awaiting review: %w", taskID, types.ErrTaskNotFound)
	}
	if err := s.checkSelfReview(review, reviewer); err != nil {
		return err
	}
	if review.ClaimedByOther(reviewer.ID) {
		return types.ErrReviewClaimedByOther
	}

	now := s.now()
	if err := s.store.UpdateReviewStatus(taskID, verdict, reviewer.ID, now, false); err != nil {
		return err
	}
	s.recordHistory(taskID, review, verdict, reviewer.ID, now, false, opts)

	if verdict == types.ReviewRejected {
		revised := opts.RevisedStatus
		if !revised.Known() || revised.Completed() {
			revised = types.StatusCreated
		}
		if err := s.statuses.Revise(taskID, revised, reviewer); err != nil {
			return fmt.Errorf("reopen rejected task %d: %w", taskID, err)
		}
	}

	s.credit(reviewer.ID, review.RequestedBy, verdict)
	s.propagateToBundle(taskID)
	s.announce(taskID, reviewer.ID, verdict, false, now)
	s.audit.Record(reviewer, types.ItemTask, taskID, actions.KindReviewSet, verdict.String())
	return nil
}

// Dispute lets the mapper contest a rejection. The review goes back to
// disputed, the reviewer's rejection credit is rolled back, and the task
// returns to the review queue once the mapper re-requests review.
func (s *Service) Dispute(taskID int64, mapper types.User, comment string) error {
	if mapper.Guest {
		return types.ErrGuestNotAllowed
	}
	review, err := s.store.GetReview(taskID)
	if err != nil {
		return err
	}
	if review == nil || review.ReviewStatus == nil || *review.ReviewStatus != types.ReviewRejected {
		return fmt.Errorf("task %d has no rejection to dispute: %w", taskID, types.ErrTaskNotFound)
	}
	if review.RequestedBy == nil || *review.RequestedBy != mapper.ID {
		return fmt.Errorf("only the mapper can dispute a rejection: %w", types.ErrSelfReviewNotAllowed)
	}

	now := s.now()
	if err := s.store.UpdateReviewStatus(taskID, types.ReviewDisputed, mapper.ID, now, false); err != nil {
		return err
	}
	s.recordHistory(taskID, review, types.ReviewDisputed, mapper.ID, now, false, VerdictOptions{Comment: comment})

	if review.ReviewedBy != nil {
		if err := s.scores.RollbackReview(*review.ReviewedBy, types.ReviewRejected); err != nil {
			log.Printf("[REVIEW] rollback rejection credit for user %d: %v", *review.ReviewedBy, err)
		}
	}
	s.announce(taskID, mapper.ID, types.ReviewDisputed, false, now)
	s.audit.Record(mapper, types.ItemTask, taskID, actions.KindReviewSet, "disputed")
	return nil
}

// SetMetaVerdict records a second-pass verdict on a completed review. Only
// approved or assisted reviews are eligible, and the original reviewer
// cannot meta-review their own verdict.
func (s *Service) SetMetaVerdict(taskID int64, verdict types.ReviewStatus, metaReviewer types.User, opts VerdictOptions) error {
	if metaReviewer.Guest {
		return types.ErrGuestNotAllowed
	}
	if verdict != types.ReviewApproved && verdict != types.ReviewRejected && verdict != types.ReviewAssisted {
		return fmt.Errorf("meta verdict must be approved, rejected, or assisted, got %s", verdict)
	}
	review, err := s.store.GetReview(taskID)
	if err != nil {
		return err
	}
	if review == nil || review.ReviewStatus == nil {
		return fmt.Errorf("task %d has no review to meta-review: %w", taskID, types.ErrTaskNotFound)
	}
	if rs := *review.ReviewStatus; rs != types.ReviewApproved && rs != types.ReviewAssisted {
		return fmt.Errorf("review of task %d is %s, only approved or assisted reviews take a meta verdict", taskID, rs)
	}
	if !s.allowSelfReview && review.ReviewedBy != nil && *review.ReviewedBy == metaReviewer.ID {
		return types.ErrSelfReviewNotAllowed
	}
	if review.ClaimedByOther(metaReviewer.ID) {
		return types.ErrReviewClaimedByOther
	}

	now := s.now()
	if err := s.store.UpdateReviewStatus(taskID, verdict, metaReviewer.ID, now, true); err != nil {
		return err
	}
	s.recordHistory(taskID, review, verdict, metaReviewer.ID, now, true, opts)
	s.announce(taskID, metaReviewer.ID, verdict, true, now)
	s.audit.Record(metaReviewer, types.ItemTask, taskID, actions.KindMetaReviewSet, verdict.String())
	return nil
}

// AddReviewer records an extra reviewer who contributed to the verdict
func (s *Service) AddReviewer(taskID int64, reviewer types.User) error {
	if reviewer.Guest {
		return types.ErrGuestNotAllowed
	}
	return s.store.AddAdditionalReviewer(taskID, reviewer.ID)
}

// History returns the review transitions of a task, oldest first
func (s *Service) History(taskID int64) ([]*types.ReviewHistoryEntry, error) {
	return s.store.GetReviewHistory(taskID)
}

// ExpireStale converts review requests older than the claim expiry to
// unnecessary and returns how many were swept.
func (s *Service) ExpireStale() (int, error) {
	ids, err := s.store.ExpireStaleReviewRequests(s.claimExpiry, s.now())
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		log.Printf("[REVIEW] expired %d stale review requests", len(ids))
	}
	return len(ids), nil
}

func (s *Service) checkSelfReview(review *types.TaskReview, reviewer types.User) error {
	if s.allowSelfReview {
		return nil
	}
	if review.RequestedBy != nil && *review.RequestedBy == reviewer.ID {
		return types.ErrSelfReviewNotAllowed
	}
	return nil
}

// credit awards review counters to both sides of the verdict. Failures are
// logged, never fatal: the verdict itself is already durable.
func (s *Service) credit(reviewerID int64, mapperID *int64, verdict types.ReviewStatus) {
	if err := s.scores.CreditReview(reviewerID, verdict, true); err != nil {
		log.Printf("[REVIEW] credit reviewer %d: %v", reviewerID, err)
	}
	if mapperID != nil {
		if err := s.scores.CreditReview(*mapperID, verdict, false); err != nil {
			log.Printf("[REVIEW] credit mapper %d: %v", *mapperID, err)
		}
	}
}

// propagateToBundle copies the verdict from a bundle primary to the other
// members so the whole bundle leaves the queue together.
func (s *Service) propagateToBundle(taskID int64) {
	task, err := s.store.GetTask(taskID)
	if err != nil || !task.IsBundlePrimary || task.BundleID == nil {
		return
	}
	bundle, err := s.store.GetBundle(*task.BundleID)
	if err != nil {
		log.Printf("[REVIEW] load bundle %d: %v", *task.BundleID, err)
		return
	}
	others := make([]int64, 0, len(bundle.TaskIDs))
	for _, id := range bundle.TaskIDs {
		if id != taskID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return
	}
	if err := s.store.CopyReviewState(taskID, others); err != nil {
		log.Printf("[REVIEW] propagate verdict from task %d: %v", taskID, err)
	}
}

func (s *Service) recordHistory(taskID int64, prev *types.TaskReview, verdict types.ReviewStatus, by int64, now time.Time, meta bool, opts VerdictOptions) {
	entry := &types.ReviewHistoryEntry{
		TaskID:      taskID,
		RequestedBy: prev.RequestedBy,
		ReviewedBy:  &by,
		OldStatus:   prev.ReviewStatus,
		NewStatus:   verdict,
		Meta:        meta,
		Comment:     opts.Comment,
		ErrorTags:   opts.ErrorTags,
		ReviewedAt:  now,
	}
	if meta {
		entry.OldStatus = prev.MetaReviewStatus
	}
	if err := s.store.InsertReviewHistory(entry); err != nil {
		log.Printf("[REVIEW] record history for task %d: %v", taskID, err)
	}
}

func (s *Service) announce(taskID, userID int64, verdict types.ReviewStatus, meta bool, now time.Time) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishJSON(events.SubjectReviewStatus, &events.ReviewStatusMessage{
		TaskID:     taskID,
		ReviewerID: userID,
		Status:     verdict.String(),
		Meta:       meta,
		Timestamp:  now,
	})
}
