package store

import (
	"context"
	"errors"
	"testing"

	"github.com/crewsched/crewsched/pkg/models"
)

func TestEscalateTask(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	_ = st.BootstrapTasks(ctx, []models.Task{task("t1"), task("t2")}, false)
	if err := st.EscalateTask(ctx, "t1", "persona", "needs a human"); err != nil {
		t.Fatalf("EscalateTask: %v", err)
	}
	got, _ := st.GetTask("t1")
	if got.Status != models.StatusNeedsApproval {
		t.Fatalf("status: %s", got.Status)
	}
	// Idempotent on an already escalated task.
	if err := st.EscalateTask(ctx, "t1", "persona", "again"); err != nil {
		t.Fatalf("re-escalate: %v", err)
	}
	// Escalating an owned in_progress task clears the owner.
	if _, err := st.ClaimExecutionTask(ctx, "alice", []string{"t2"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := st.EscalateTask(ctx, "t2", "persona", "stop and review"); err != nil {
		t.Fatalf("EscalateTask in_progress: %v", err)
	}
	got, _ = st.GetTask("t2")
	if got.Status != models.StatusNeedsApproval || got.Owner != nil {
		t.Fatalf("after escalate: %+v", got)
	}
	// Blocked tasks escalate too, clearing the block reason.
	_ = st.BootstrapTasks(ctx, []models.Task{task("t4")}, true)
	if _, err := st.ClaimExecutionTask(ctx, "alice", []string{"t4"}); err != nil {
		t.Fatalf("claim t4: %v", err)
	}
	_ = st.MarkTaskBlocked(ctx, "t4", "alice", "missing credentials")
	if err := st.EscalateTask(ctx, "t4", "persona", "needs human help"); err != nil {
		t.Fatalf("EscalateTask blocked: %v", err)
	}
	got, _ = st.GetTask("t4")
	if got.Status != models.StatusNeedsApproval || got.BlockReason != "" {
		t.Fatalf("after escalate from blocked: %+v", got)
	}
	// Completed tasks cannot be escalated.
	_ = st.BootstrapTasks(ctx, []models.Task{task("t3")}, true)
	if _, err := st.ClaimExecutionTask(ctx, "alice", []string{"t3"}); err != nil {
		t.Fatalf("claim t3: %v", err)
	}
	_ = st.CompleteTask(ctx, "t3", "alice", "done")
	if err := st.EscalateTask(ctx, "t3", "persona", "too late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestReleaseApproval(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	_ = st.BootstrapTasks(ctx, []models.Task{task("t1"), planTask("t2")}, false)
	_ = st.EscalateTask(ctx, "t1", "persona", "check this")
	if err := st.ReleaseApproval(ctx, "t1", "lead"); err != nil {
		t.Fatalf("ReleaseApproval: %v", err)
	}
	got, _ := st.GetTask("t1")
	if got.Status != models.StatusPending {
		t.Fatalf("status: %s", got.Status)
	}
	// Submitted plans must go through ReviewPlan instead.
	if _, err := st.ClaimPlanTask(ctx, "alice"); err != nil {
		t.Fatalf("claim plan: %v", err)
	}
	_ = st.SubmitPlan(ctx, "t2", "alice", "the plan")
	if err := st.ReleaseApproval(ctx, "t2", "lead"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUnblockTask(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	_ = st.BootstrapTasks(ctx, []models.Task{task("t1")}, false)
	if err := st.UnblockTask(ctx, "t1", "lead"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending task, got %v", err)
	}
	if _, err := st.ClaimExecutionTask(ctx, "alice", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_ = st.MarkTaskBlocked(ctx, "t1", "alice", "missing credentials")
	if err := st.UnblockTask(ctx, "t1", "lead"); err != nil {
		t.Fatalf("UnblockTask: %v", err)
	}
	got, _ := st.GetTask("t1")
	if got.Status != models.StatusPending || got.Owner != nil || got.BlockReason != "" {
		t.Fatalf("after unblock: %+v", got)
	}
	// Claimable again.
	claimed, _ := st.ClaimExecutionTask(ctx, "bob", nil)
	if claimed == nil || claimed.ID != "t1" {
		t.Fatalf("not reclaimable: %+v", claimed)
	}
}

func TestAbandonPlanClaim(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	_ = st.BootstrapTasks(ctx, []models.Task{planTask("t1")}, false)
	if _, err := st.ClaimPlanTask(ctx, "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := st.AbandonPlanClaim(ctx, "t1", "bob"); !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch, got %v", err)
	}
	if err := st.AbandonPlanClaim(ctx, "t1", "alice"); err != nil {
		t.Fatalf("AbandonPlanClaim: %v", err)
	}
	got, _ := st.GetTask("t1")
	if got.Planner != nil || got.PlanStatus != models.PlanPending {
		t.Fatalf("after abandon: %+v", got)
	}
	// Claimable again by someone else.
	claimed, _ := st.ClaimPlanTask(ctx, "bob")
	if claimed == nil || claimed.ID != "t1" {
		t.Fatalf("not reclaimable: %+v", claimed)
	}
}

func TestHandoffTaskPhase(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	_ = st.BootstrapTasks(ctx, []models.Task{task("t1")}, false)
	if _, err := st.ClaimExecutionTask(ctx, "alice", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := st.HandoffTaskPhase(ctx, "t1", "alice", 1); err != nil {
		t.Fatalf("HandoffTaskPhase: %v", err)
	}
	got, _ := st.GetTask("t1")
	if got.Status != models.StatusPending || got.Owner != nil {
		t.Fatalf("after handoff: %+v", got)
	}
	if got.CurrentPhaseIndex == nil || *got.CurrentPhaseIndex != 1 {
		t.Fatalf("phase index: %v", got.CurrentPhaseIndex)
	}
	if got.RevisionCount != 0 {
		t.Fatalf("handoff must not count as revision: %d", got.RevisionCount)
	}
}
