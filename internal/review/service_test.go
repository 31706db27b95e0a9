package review

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mapforge/mapforge/internal/actions"
	"github.com/mapforge/mapforge/internal/locking"
	"github.com/mapforge/mapforge/internal/scoring"
	"github.com/mapforge/mapforge/internal/status"
	"github.com/mapforge/mapforge/internal/store"
	"github.com/mapforge/mapforge/internal/types"
)

type fixture struct {
	store    *store.SQLiteStore
	statuses *status.Service
	service  *Service
	task     *types.Task
	mapper   types.User
	reviewer types.User
}

func setupReview(t *testing.T, allowSelfReview bool) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	project := &types.Project{Name: "p", Enabled: true}
	if err := s.CreateProject(project); err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}
	challenge := &types.Challenge{ProjectID: project.ID, Name: "c", Enabled: true}
	if err := s.CreateChallenge(challenge); err != nil {
		t.Fatalf("Failed to create challenge: %v", err)
	}
	task := &types.Task{ChallengeID: challenge.ID, Name: "t", Status: types.StatusCreated}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	auditStore, err := actions.NewStore(s.DB())
	if err != nil {
		t.Fatalf("Failed to create audit store: %v", err)
	}
	audit := actions.NewLogger(auditStore, nil)
	locks := locking.NewManager(s, time.Hour)
	scores := scoring.NewKeeper(s, types.ScoringConfig{Fixed: 5, FalsePositive: 3, AlreadyFixed: 3, TooHard: 1})
	statuses := status.NewService(s, locks, scores, audit, nil, 7*24*time.Hour)
	svc := NewService(s, statuses, scores, audit, nil, allowSelfReview, 24*time.Hour)

	f := &fixture{
		store:    s,
		statuses: statuses,
		service:  svc,
		task:     task,
		mapper:   types.User{ID: 1},
		reviewer: types.User{ID: 2},
	}

	// Map the task and put it in the review queue
	err = statuses.SetStatus(task.ID, types.StatusFixed, f.mapper, status.Options{RequestReview: true})
	if err != nil {
		t.Fatalf("Failed to complete task: %v", err)
	}
	return f
}

func TestStartAndCancel(t *testing.T) {
	f := setupReview(t, false)

	if err := f.service.Start(f.task.ID, f.reviewer); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	review, err := f.store.GetReview(f.task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review.ClaimedBy == nil || *review.ClaimedBy != f.reviewer.ID {
		t.Errorf("ClaimedBy = %v, want reviewer", review.ClaimedBy)
	}
	if review.StartedAt == nil {
		t.Error("Expected review_started_at while claim is held")
	}

	// Another reviewer cannot pile on
	err = f.service.Start(f.task.ID, types.User{ID: 3})
	if !errors.Is(err, types.ErrReviewClaimedByOther) {
		t.Errorf("Competing Start = %v, want ErrReviewClaimedByOther", err)
	}

	if err := f.service.Cancel(f.task.ID, f.reviewer); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	// Cancel is idempotent
	if err := f.service.Cancel(f.task.ID, f.reviewer); err != nil {
		t.Errorf("Second Cancel = %v, want nil", err)
	}

	review, err = f.store.GetReview(f.task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review.ClaimedBy != nil || review.StartedAt != nil {
		t.Error("Cancel should clear the claim")
	}
}

func TestStartSelfReviewRejected(t *testing.T) {
	f := setupReview(t, false)

	err := f.service.Start(f.task.ID, f.mapper)
	if !errors.Is(err, types.ErrSelfReviewNotAllowed) {
		t.Errorf("Self Start = %v, want ErrSelfReviewNotAllowed", err)
	}
}

func TestStartSelfReviewAllowedWhenConfigured(t *testing.T) {
	f := setupReview(t, true)

	if err := f.service.Start(f.task.ID, f.mapper); err != nil {
		t.Errorf("Self Start with self-review on = %v, want nil", err)
	}
}

func TestApproveVerdict(t *testing.T) {
	f := setupReview(t, false)

	if err := f.service.Start(f.task.ID, f.reviewer); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := f.service.SetVerdict(f.task.ID, types.ReviewApproved, f.reviewer, VerdictOptions{Comment: "looks good"})
	if err != nil {
		t.Fatalf("SetVerdict failed: %v", err)
	}

	review, err := f.store.GetReview(f.task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review.ReviewStatus == nil || *review.ReviewStatus != types.ReviewApproved {
		t.Errorf("ReviewStatus = %v, want Approved", review.ReviewStatus)
	}

	// The task keeps its completed status
	task, err := f.store.GetTask(f.task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != types.StatusFixed {
		t.Errorf("Task status = %v, want Fixed after approval", task.Status)
	}

	// Both parties are credited
	reviewerScore, err := f.store.GetUserScore(f.reviewer.ID)
	if err != nil {
		t.Fatalf("GetUserScore failed: %v", err)
	}
	if reviewerScore.Approved != 1 || reviewerScore.ReviewsDone != 1 {
		t.Errorf("Reviewer approved=%d done=%d, want 1/1", reviewerScore.Approved, reviewerScore.ReviewsDone)
	}
	mapperScore, err := f.store.GetUserScore(f.mapper.ID)
	if err != nil {
		t.Fatalf("GetUserScore failed: %v", err)
	}
	if mapperScore.Approved != 1 {
		t.Errorf("Mapper approved=%d, want 1", mapperScore.Approved)
	}

	history, err := f.service.History(f.task.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].NewStatus != types.ReviewApproved {
		t.Errorf("History = %+v, want one approval row", history)
	}
}

func TestRejectReopensTask(t *testing.T) {
	f := setupReview(t, false)

	err := f.service.SetVerdict(f.task.ID, types.ReviewRejected, f.reviewer, VerdictOptions{
		ErrorTags: "geometry",
	})
	if err != nil {
		t.Fatalf("SetVerdict failed: %v", err)
	}

	task, err := f.store.GetTask(f.task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != types.StatusCreated {
		t.Errorf("Task status = %v, want Created after rejection", task.Status)
	}

	// The mapper's completion credit is rolled back
	mapperScore, err := f.store.GetUserScore(f.mapper.ID)
	if err != nil {
		t.Fatalf("GetUserScore failed: %v", err)
	}
	if mapperScore.Score != 0 {
		t.Errorf("Mapper score = %d, want 0 after rejection", mapperScore.Score)
	}

	review, err := f.store.GetReview(f.task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review.ReviewStatus == nil || *review.ReviewStatus != types.ReviewRejected {
		t.Errorf("ReviewStatus = %v, want Rejected", review.ReviewStatus)
	}
}

func TestVerdictRequiresPendingReview(t *testing.T) {
	f := setupReview(t, false)

	if err := f.service.SetVerdict(f.task.ID, types.ReviewApproved, f.reviewer, VerdictOptions{}); err != nil {
		t.Fatalf("SetVerdict failed: %v", err)
	}
	// A second verdict on the settled review is rejected
	err := f.service.SetVerdict(f.task.ID, types.ReviewApproved, f.reviewer, VerdictOptions{})
	if err == nil {
		t.Error("Expected error on double verdict")
	}
}

func TestVerdictRejectsUnknownOutcome(t *testing.T) {
	f := setupReview(t, false)

	err := f.service.SetVerdict(f.task.ID, types.ReviewRequested, f.reviewer, VerdictOptions{})
	if err == nil {
		t.Error("Expected error for non-verdict status")
	}
}

func TestVerdictBlockedByForeignClaim(t *testing.T) {
	f := setupReview(t, false)
	other := types.User{ID: 3}

	if err := f.service.Start(f.task.ID, other); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	err := f.service.SetVerdict(f.task.ID, types.ReviewApproved, f.reviewer, VerdictOptions{})
	if !errors.Is(err, types.ErrReviewClaimedByOther) {
		t.Errorf("SetVerdict under foreign claim = %v, want ErrReviewClaimedByOther", err)
	}
}

func TestDispute(t *testing.T) {
	f := setupReview(t, false)

	if err := f.service.SetVerdict(f.task.ID, types.ReviewRejected, f.reviewer, VerdictOptions{}); err != nil {
		t.Fatalf("SetVerdict failed: %v", err)
	}

	// Only the mapper can dispute
	err := f.service.Dispute(f.task.ID, types.User{ID: 9}, "i disagree")
	if err == nil {
		t.Error("Expected error for dispute by non-mapper")
	}

	if err := f.service.Dispute(f.task.ID, f.mapper, "the fix is correct"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}

	review, err := f.store.GetReview(f.task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review.ReviewStatus == nil || *review.ReviewStatus != types.ReviewDisputed {
		t.Errorf("ReviewStatus = %v, want Disputed", review.ReviewStatus)
	}

	// The reviewer's rejection counter is rolled back
	score, err := f.store.GetUserScore(f.reviewer.ID)
	if err != nil {
		t.Fatalf("GetUserScore failed: %v", err)
	}
	if score.Rejected != 0 {
		t.Errorf("Reviewer rejected=%d, want 0 after dispute", score.Rejected)
	}
}

func TestMetaVerdict(t *testing.T) {
	f := setupReview(t, false)
	meta := types.User{ID: 3}

	if err := f.service.SetVerdict(f.task.ID, types.ReviewApproved, f.reviewer, VerdictOptions{}); err != nil {
		t.Fatalf("SetVerdict failed: %v", err)
	}

	// The original reviewer cannot meta-review their own verdict
	err := f.service.SetMetaVerdict(f.task.ID, types.ReviewApproved, f.reviewer, VerdictOptions{})
	if !errors.Is(err, types.ErrSelfReviewNotAllowed) {
		t.Errorf("Self meta verdict = %v, want ErrSelfReviewNotAllowed", err)
	}

	if err := f.service.SetMetaVerdict(f.task.ID, types.ReviewAssisted, meta, VerdictOptions{}); err != nil {
		t.Fatalf("SetMetaVerdict failed: %v", err)
	}

	review, err := f.store.GetReview(f.task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review.MetaReviewStatus == nil || *review.MetaReviewStatus != types.ReviewAssisted {
		t.Errorf("MetaReviewStatus = %v, want Assisted", review.MetaReviewStatus)
	}
	if review.ReviewStatus == nil || *review.ReviewStatus != types.ReviewApproved {
		t.Error("Meta verdict must not disturb the primary verdict")
	}
}

func TestMetaVerdictNeedsSettledReview(t *testing.T) {
	f := setupReview(t, false)

	err := f.service.SetMetaVerdict(f.task.ID, types.ReviewApproved, types.User{ID: 3}, VerdictOptions{})
	if err == nil {
		t.Error("Expected error for meta verdict on a pending review")
	}
}

func TestNext(t *testing.T) {
	f := setupReview(t, false)

	// A second reviewable task
	other := &types.Task{ChallengeID: f.task.ChallengeID, Name: "t2", Status: types.StatusCreated}
	if err := f.store.CreateTask(other); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	err := f.statuses.SetStatus(other.ID, types.StatusFixed, f.mapper, status.Options{RequestReview: true})
	if err != nil {
		t.Fatalf("Failed to complete task: %v", err)
	}

	got, err := f.service.Next(f.reviewer, types.SearchParameters{}, store.ReviewQueueOptions{})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	review, err := f.store.GetReview(got.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review.ClaimedBy == nil || *review.ClaimedBy != f.reviewer.ID {
		t.Error("Next should claim the returned task")
	}

	// A competing reviewer gets the other task, not the claimed one
	second, err := f.service.Next(types.User{ID: 5}, types.SearchParameters{}, store.ReviewQueueOptions{})
	if err != nil {
		t.Fatalf("Next for second reviewer failed: %v", err)
	}
	if second.ID == got.ID {
		t.Error("Second reviewer received a task already claimed by the first")
	}

	// Asking again releases the reviewer's prior claim before reclaiming
	again, err := f.service.Next(f.reviewer, types.SearchParameters{}, store.ReviewQueueOptions{})
	if err != nil {
		t.Fatalf("Second Next failed: %v", err)
	}
	if again.ID != got.ID {
		t.Errorf("Next returned task %d, want the only claimable task %d", again.ID, got.ID)
	}
}

func TestNextSkipsOwnWork(t *testing.T) {
	f := setupReview(t, false)

	_, err := f.service.Next(f.mapper, types.SearchParameters{}, store.ReviewQueueOptions{})
	if !errors.Is(err, types.ErrNoTasksFound) {
		t.Errorf("Next over own work = %v, want ErrNoTasksFound", err)
	}
}

func TestExpireStale(t *testing.T) {
	f := setupReview(t, false)

	// Age the pending request past the claim expiry
	if err := f.store.RequestReview(f.task.ID, f.mapper.ID, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("Failed to backdate request: %v", err)
	}

	n, err := f.service.ExpireStale()
	if err != nil {
		t.Fatalf("ExpireStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ExpireStale = %d, want 1", n)
	}
}
