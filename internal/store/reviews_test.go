package store

import (
	"errors"
	"testing"
	"time"

	"github.com/mapforge/mapforge/internal/types"
)

func TestRequestAndGetReview(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	c := seedChallenge(t, s)
	task := seedTask(t, s, c.ID, "review-me")

	review, err := s.GetReview(task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review != nil {
		t.Fatal("Expected no review before request")
	}

	now := time.Now()
	if err := s.RequestReview(task.ID, 1, now); err != nil {
		t.Fatalf("Failed to request review: %v", err)
	}

	review, err = s.GetReview(task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if !review.Requested() {
		t.Errorf("Review = %+v, want Requested", review)
	}
	if review.RequestedBy == nil || *review.RequestedBy != 1 {
		t.Errorf("RequestedBy = %v, want 1", review.RequestedBy)
	}
	if review.ReviewedAt != nil {
		t.Error("ReviewedAt must be nil while the review is pending")
	}
}

func TestClaimReviewGuard(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	c := seedChallenge(t, s)
	task := seedTask(t, s, c.ID, "claim-me")

	if err := s.RequestReview(task.ID, 1, time.Now()); err != nil {
		t.Fatalf("Failed to request review: %v", err)
	}

	if err := s.ClaimReview(task.ID, 2, time.Now()); err != nil {
		t.Fatalf("First claim failed: %v", err)
	}

	err := s.ClaimReview(task.ID, 3, time.Now())
	if !errors.Is(err, types.ErrReviewClaimedByOther) {
		t.Errorf("Competing claim = %v, want ErrReviewClaimedByOther", err)
	}

	// Claiming again as the holder refreshes
	if err := s.ClaimReview(task.ID, 2, time.Now()); err != nil {
		t.Errorf("Re-claim by holder failed: %v", err)
	}

	// Claim on a task with no review row
	err = s.ClaimReview(9999, 2, time.Now())
	if !errors.Is(err, types.ErrTaskNotFound) {
		t.Errorf("Claim of missing review = %v, want ErrTaskNotFound", err)
	}
}

func TestUpdateReviewStatusClearsClaim(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	c := seedChallenge(t, s)
	task := seedTask(t, s, c.ID, "verdict")

	if err := s.RequestReview(task.ID, 1, time.Now()); err != nil {
		t.Fatalf("Failed to request review: %v", err)
	}
	if err := s.ClaimReview(task.ID, 2, time.Now()); err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}

	if err := s.UpdateReviewStatus(task.ID, types.ReviewApproved, 2, time.Now(), false); err != nil {
		t.Fatalf("Failed to set verdict: %v", err)
	}

	review, err := s.GetReview(task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review.ReviewStatus == nil || *review.ReviewStatus != types.ReviewApproved {
		t.Errorf("ReviewStatus = %v, want Approved", review.ReviewStatus)
	}
	if review.ReviewedBy == nil || *review.ReviewedBy != 2 {
		t.Errorf("ReviewedBy = %v, want 2", review.ReviewedBy)
	}
	if review.ClaimedBy != nil || review.StartedAt != nil {
		t.Error("Verdict should clear the review claim")
	}
}

func TestUpdateReviewStatusMeta(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	c := seedChallenge(t, s)
	task := seedTask(t, s, c.ID, "meta")

	if err := s.RequestReview(task.ID, 1, time.Now()); err != nil {
		t.Fatalf("Failed to request review: %v", err)
	}
	if err := s.UpdateReviewStatus(task.ID, types.ReviewApproved, 2, time.Now(), false); err != nil {
		t.Fatalf("Failed to set verdict: %v", err)
	}
	if err := s.UpdateReviewStatus(task.ID, types.ReviewRejected, 3, time.Now(), true); err != nil {
		t.Fatalf("Failed to set meta verdict: %v", err)
	}

	review, err := s.GetReview(task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review.ReviewStatus == nil || *review.ReviewStatus != types.ReviewApproved {
		t.Error("Meta verdict must not touch the primary review status")
	}
	if review.MetaReviewStatus == nil || *review.MetaReviewStatus != types.ReviewRejected {
		t.Errorf("MetaReviewStatus = %v, want Rejected", review.MetaReviewStatus)
	}
	if review.MetaReviewedBy == nil || *review.MetaReviewedBy != 3 {
		t.Errorf("MetaReviewedBy = %v, want 3", review.MetaReviewedBy)
	}
}

func TestReviewQueue(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	c := seedChallenge(t, s)

	pending := seedTask(t, s, c.ID, "pending")
	own := seedTask(t, s, c.ID, "own-work")
	claimed := seedTask(t, s, c.ID, "claimed")
	done := seedTask(t, s, c.ID, "done")

	now := time.Now()
	for _, id := range []int64{pending.ID, claimed.ID, done.ID} {
		if err := s.RequestReview(id, 1, now); err != nil {
			t.Fatalf("Failed to request review: %v", err)
		}
	}
	if err := s.RequestReview(own.ID, 2, now); err != nil {
		t.Fatalf("Failed to request review: %v", err)
	}
	if err := s.ClaimReview(claimed.ID, 9, now); err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if err := s.UpdateReviewStatus(done.ID, types.ReviewApproved, 9, now, false); err != nil {
		t.Fatalf("Failed to set verdict: %v", err)
	}

	tasks, err := s.ReviewQueue(types.SearchParameters{}, ReviewQueueOptions{ReviewerID: 2})
	if err != nil {
		t.Fatalf("ReviewQueue failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != pending.ID {
		ids := make([]int64, len(tasks))
		for i, task := range tasks {
			ids[i] = task.ID
		}
		t.Errorf("ReviewQueue = %v, want just [%d]", ids, pending.ID)
	}

	// Self-review mode surfaces the reviewer's own work too
	tasks, err = s.ReviewQueue(types.SearchParameters{}, ReviewQueueOptions{ReviewerID: 2, IncludeOwn: true})
	if err != nil {
		t.Fatalf("ReviewQueue failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("ReviewQueue with IncludeOwn = %d tasks, want 2", len(tasks))
	}
}

func TestReviewQueueMeta(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	c := seedChallenge(t, s)

	approved := seedTask(t, s, c.ID, "approved")
	rejected := seedTask(t, s, c.ID, "rejected")
	metaDone := seedTask(t, s, c.ID, "meta-done")

	now := time.Now()
	for _, id := range []int64{approved.ID, rejected.ID, metaDone.ID} {
		if err := s.RequestReview(id, 1, now); err != nil {
			t.Fatalf("Failed to request review: %v", err)
		}
	}
	if err := s.UpdateReviewStatus(approved.ID, types.ReviewApproved, 2, now, false); err != nil {
		t.Fatalf("Failed to set verdict: %v", err)
	}
	if err := s.UpdateReviewStatus(rejected.ID, types.ReviewRejected, 2, now, false); err != nil {
		t.Fatalf("Failed to set verdict: %v", err)
	}
	if err := s.UpdateReviewStatus(metaDone.ID, types.ReviewAssisted, 2, now, false); err != nil {
		t.Fatalf("Failed to set verdict: %v", err)
	}
	if err := s.UpdateReviewStatus(metaDone.ID, types.ReviewApproved, 3, now, true); err != nil {
		t.Fatalf("Failed to set meta verdict: %v", err)
	}

	tasks, err := s.ReviewQueue(types.SearchParameters{}, ReviewQueueOptions{ReviewerID: 5, AsMetaReview: true})
	if err != nil {
		t.Fatalf("ReviewQueue failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != approved.ID {
		t.Errorf("Meta queue returned %d tasks, want just the approved one", len(tasks))
	}
}

func TestExpireStaleReviewRequests(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	c := seedChallenge(t, s)

	stale := seedTask(t, s, c.ID, "stale")
	fresh := seedTask(t, s, c.ID, "fresh")

	now := time.Now()
	if err := s.RequestReview(stale.ID, 1, now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("Failed to request review: %v", err)
	}
	if err := s.RequestReview(fresh.ID, 1, now); err != nil {
		t.Fatalf("Failed to request review: %v", err)
	}

	ids, err := s.ExpireStaleReviewRequests(24*time.Hour, now)
	if err != nil {
		t.Fatalf("Failed to expire: %v", err)
	}
	if len(ids) != 1 || ids[0] != stale.ID {
		t.Errorf("Expired = %v, want [%d]", ids, stale.ID)
	}

	review, err := s.GetReview(stale.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if review.ReviewStatus == nil || *review.ReviewStatus != types.ReviewUnnecessary {
		t.Errorf("Expired review status = %v, want Unnecessary", review.ReviewStatus)
	}

	history, err := s.GetReviewHistory(stale.ID)
	if err != nil {
		t.Fatalf("GetReviewHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected one history row for the expiry, got %d", len(history))
	}
}

func TestCopyReviewState(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	c := seedChallenge(t, s)

	primary := seedTask(t, s, c.ID, "primary")
	member := seedTask(t, s, c.ID, "member")

	now := time.Now()
	if err := s.RequestReview(primary.ID, 1, now); err != nil {
		t.Fatalf("Failed to request review: %v", err)
	}
	if err := s.ClaimReview(primary.ID, 2, now); err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}

	if err := s.CopyReviewState(primary.ID, []int64{member.ID}); err != nil {
		t.Fatalf("CopyReviewState failed: %v", err)
	}

	review, err := s.GetReview(member.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if !review.Requested() {
		t.Errorf("Member review = %+v, want Requested", review)
	}
	if review.ClaimedBy != nil {
		t.Error("Copy must not carry the claim to member tasks")
	}
}

func TestAddAdditionalReviewer(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	c := seedChallenge(t, s)
	task := seedTask(t, s, c.ID, "shared")

	if err := s.RequestReview(task.ID, 1, time.Now()); err != nil {
		t.Fatalf("Failed to request review: %v", err)
	}

	if err := s.AddAdditionalReviewer(task.ID, 7); err != nil {
		t.Fatalf("Failed to add reviewer: %v", err)
	}
	// Adding the same reviewer twice is a no-op
	if err := s.AddAdditionalReviewer(task.ID, 7); err != nil {
		t.Fatalf("Failed to re-add reviewer: %v", err)
	}
	if err := s.AddAdditionalReviewer(task.ID, 8); err != nil {
		t.Fatalf("Failed to add second reviewer: %v", err)
	}

	review, err := s.GetReview(task.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if len(review.AdditionalReviewers) != 2 {
		t.Errorf("AdditionalReviewers = %v, want [7 8]", review.AdditionalReviewers)
	}
}
